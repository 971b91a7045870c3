package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"documind-go/internal/model"
	"documind-go/internal/repository"
	"documind-go/pkg/log"
	"documind-go/pkg/tasks"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedFileType 表示上传的文件类型不受支持。
	ErrUnsupportedFileType = errors.New("unsupported file type, only pdf is accepted")
	// ErrRetryNotAllowed 表示文档当前状态不允许重试摄取。
	ErrRetryNotAllowed = errors.New("retry is only allowed for failed documents with a stored file")
)

// ObjectStorage 抽象了文档服务需要的对象存储写删操作。
type ObjectStorage interface {
	PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, objectName string) error
}

// TaskQueue 抽象了摄取任务的投递。
type TaskQueue interface {
	Enqueue(task tasks.DocumentProcessingTask) error
}

// DocumentService 接口定义了文档生命周期的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, ownerID uint, fileName string, size int64, reader io.Reader) (*model.Document, error)
	List(ownerID uint) ([]model.Document, error)
	Get(ownerID uint, id string) (*model.Document, error)
	Delete(ctx context.Context, ownerID uint, id string) error
	Retry(ctx context.Context, ownerID uint, id string) error
}

type documentService struct {
	docRepo        repository.DocumentRepository
	chunkRepo      repository.ChunkRepository
	chunkIndexRepo repository.ChunkIndexRepository
	convRepo       repository.ConversationRepository
	storage        ObjectStorage
	queue          TaskQueue
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	chunkIndexRepo repository.ChunkIndexRepository,
	convRepo repository.ConversationRepository,
	storage ObjectStorage,
	queue TaskQueue,
) DocumentService {
	return &documentService{
		docRepo:        docRepo,
		chunkRepo:      chunkRepo,
		chunkIndexRepo: chunkIndexRepo,
		convRepo:       convRepo,
		storage:        storage,
		queue:          queue,
	}
}

// Upload 保存上传文件并创建 PENDING 状态的文档记录，随后投递摄取任务。
func (s *documentService) Upload(ctx context.Context, ownerID uint, fileName string, size int64, reader io.Reader) (*model.Document, error) {
	if strings.ToLower(filepath.Ext(fileName)) != ".pdf" {
		return nil, ErrUnsupportedFileType
	}

	doc := &model.Document{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		FileName: fileName,
		FileSize: size,
		Status:   model.DocumentStatusPending,
		Progress: 0,
	}
	doc.FilePath = fmt.Sprintf("documents/%s.pdf", doc.ID)

	if err := s.storage.PutObject(ctx, doc.FilePath, reader, size, "application/pdf"); err != nil {
		return nil, fmt.Errorf("保存上传文件失败: %w", err)
	}
	if err := s.docRepo.Create(doc); err != nil {
		// 元数据写入失败时清掉已保存的对象，避免孤儿文件
		if rmErr := s.storage.RemoveObject(ctx, doc.FilePath); rmErr != nil {
			log.Warnf("清理上传对象失败, Object: %s, Error: %v", doc.FilePath, rmErr)
		}
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if err := s.queue.Enqueue(tasks.DocumentProcessingTask{DocumentID: doc.ID, OwnerID: ownerID}); err != nil {
		log.Errorf("投递摄取任务失败, DocumentID: %s, Error: %v", doc.ID, err)
		if mkErr := s.docRepo.MarkFailed(doc.ID, "投递摄取任务失败"); mkErr != nil {
			log.Errorf("标记文档失败状态时出错, DocumentID: %s, Error: %v", doc.ID, mkErr)
		}
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("文档上传成功, DocumentID: %s, FileName: %s, Size: %d", doc.ID, fileName, size)
	return doc, nil
}

// List 返回用户的全部文档。
func (s *documentService) List(ownerID uint) ([]model.Document, error) {
	return s.docRepo.FindByOwner(ownerID)
}

// Get 返回用户的单个文档。
func (s *documentService) Get(ownerID uint, id string) (*model.Document, error) {
	return s.docRepo.FindByIDAndOwner(id, ownerID)
}

// Delete 删除文档及其全部派生数据。
// 先删除文档记录本身，处理中的摄取任务会在下一次进度更新时察觉并自行回滚。
func (s *documentService) Delete(ctx context.Context, ownerID uint, id string) error {
	doc, err := s.docRepo.FindByIDAndOwner(id, ownerID)
	if err != nil {
		return err
	}

	if err := s.docRepo.Delete(doc.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	if err := s.chunkRepo.DeleteByDocumentID(doc.ID); err != nil {
		log.Errorf("删除分块记录失败, DocumentID: %s, Error: %v", doc.ID, err)
	}
	if err := s.chunkIndexRepo.DeleteByDocumentID(ctx, doc.ID); err != nil {
		log.Errorf("删除向量索引失败, DocumentID: %s, Error: %v", doc.ID, err)
	}
	if doc.FilePath != "" {
		if err := s.storage.RemoveObject(ctx, doc.FilePath); err != nil {
			log.Warnf("删除存储对象失败, Object: %s, Error: %v", doc.FilePath, err)
		}
	}
	if err := s.convRepo.ClearHistory(ctx, ownerID, doc.ID); err != nil {
		log.Warnf("清理对话历史失败, DocumentID: %s, Error: %v", doc.ID, err)
	}

	log.Infof("文档删除成功, DocumentID: %s", doc.ID)
	return nil
}

// Retry 对 FAILED 状态的文档重新发起摄取。
// 仅允许从 FAILED 重试，且文档必须仍有存储文件。
func (s *documentService) Retry(ctx context.Context, ownerID uint, id string) error {
	doc, err := s.docRepo.FindByIDAndOwner(id, ownerID)
	if err != nil {
		return err
	}
	if doc.FilePath == "" || doc.Status != model.DocumentStatusFailed {
		return ErrRetryNotAllowed
	}

	// 清理上一次失败可能残留的分块
	if err := s.chunkRepo.DeleteByDocumentID(doc.ID); err != nil {
		return fmt.Errorf("清理历史分块失败: %w", err)
	}
	if err := s.chunkIndexRepo.DeleteByDocumentID(ctx, doc.ID); err != nil {
		return fmt.Errorf("清理历史向量索引失败: %w", err)
	}

	reset, err := s.docRepo.MarkPendingForRetry(doc.ID)
	if err != nil {
		return err
	}
	if !reset {
		// 状态在检查后发生了变化
		return ErrRetryNotAllowed
	}

	if err := s.queue.Enqueue(tasks.DocumentProcessingTask{DocumentID: doc.ID, OwnerID: ownerID}); err != nil {
		return fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("文档重试已受理, DocumentID: %s", doc.ID)
	return nil
}
