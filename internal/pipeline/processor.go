package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"documind-go/internal/model"
	"documind-go/internal/notify"
	"documind-go/internal/repository"
	"documind-go/pkg/embedding"
	"documind-go/pkg/extract"
	"documind-go/pkg/log"
	"documind-go/pkg/tasks"
)

// ObjectStore 抽象了对象存储的读取操作，便于在测试中替换 MinIO。
type ObjectStore interface {
	GetObject(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// Processor 封装了文档摄取的所有依赖和逻辑。
// 单个文档的处理流程：下载 -> 提取文本 -> 分块 -> 逐块向量化并建立索引。
// 任何一步失败都会回滚已写入的分块，保证失败的文档不残留部分数据。
type Processor struct {
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	chunkIndexRepo  repository.ChunkIndexRepository
	store           ObjectStore
	extractor       extract.Extractor
	chunker         *Chunker
	embeddingClient embedding.Client
	notifier        notify.Notifier
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	chunkIndexRepo repository.ChunkIndexRepository,
	store ObjectStore,
	extractor extract.Extractor,
	chunker *Chunker,
	embeddingClient embedding.Client,
	notifier notify.Notifier,
) *Processor {
	return &Processor{
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		chunkIndexRepo:  chunkIndexRepo,
		store:           store,
		extractor:       extractor,
		chunker:         chunker,
		embeddingClient: embeddingClient,
		notifier:        notifier,
	}
}

// Process 是文档摄取的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, OwnerID: %d", task.DocumentID, task.OwnerID)

	// 1. 加载文档记录。文档已不存在说明任务过期，静默退出。
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		log.Infof("[Processor] 文档已不存在, 跳过任务, DocumentID: %s", task.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("加载文档记录失败: %w", err)
	}
	if doc.OwnerID != task.OwnerID {
		log.Warnf("[Processor] 任务归属与文档不一致, 跳过任务, DocumentID: %s", task.DocumentID)
		return nil
	}

	// 2. 抢占 PENDING 状态。抢占失败说明任务已过期或被其他消费者处理。
	claimed, err := p.docRepo.ClaimPending(doc.ID)
	if err != nil {
		return fmt.Errorf("抢占文档处理任务失败: %w", err)
	}
	if !claimed {
		log.Infof("[Processor] 文档不处于 PENDING 状态, 跳过任务, DocumentID: %s", doc.ID)
		return nil
	}
	p.notifier.NotifyProgress(doc.OwnerID, notify.ProgressUpdate{
		DocumentID: doc.ID,
		Status:     model.DocumentStatusProcessing,
		Progress:   0,
	})

	if doc.FilePath == "" {
		return p.fail(ctx, doc, "文档缺少存储路径", nil)
	}

	// 3. 从对象存储下载文件并提取文本
	log.Infof("[Processor] 步骤1: 从对象存储下载文件, Object: %s", doc.FilePath)
	object, err := p.store.GetObject(ctx, doc.FilePath)
	if err != nil {
		return p.fail(ctx, doc, "下载文件失败", err)
	}
	text, err := p.extractor.ExtractText(ctx, object, doc.FileName)
	object.Close()
	if err != nil {
		return p.fail(ctx, doc, "提取文本失败", err)
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 4. 文本分块。空文本也会产出一个空分块，
	// 保证文档最终进入 DONE 状态，由问答层识别"无可提取文本"。
	chunks := p.chunker.Split(text)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))

	if deleted, err := p.reportProgress(ctx, doc, 30); err != nil {
		return err
	} else if deleted {
		return nil
	}

	// 5. 逐块向量化并持久化，进度在 30 到 90 之间线性推进
	for i, content := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, content)
		if err != nil {
			return p.fail(ctx, doc, "生成向量失败", err)
		}
		if err := p.chunkRepo.Create(&model.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    content,
			OwnerID:    doc.OwnerID,
		}); err != nil {
			return p.fail(ctx, doc, "写入分块记录失败", err)
		}
		esChunk := model.EsChunk{
			ChunkKey:   model.ChunkKey(doc.ID, i),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    content,
			Vector:     vector,
			OwnerID:    doc.OwnerID,
		}
		if err := p.chunkIndexRepo.IndexChunk(ctx, esChunk); err != nil {
			return p.fail(ctx, doc, "索引分块向量失败", err)
		}

		progress := 30 + int(math.Round(60*float64(i+1)/float64(len(chunks))))
		if progress > 90 {
			progress = 90
		}
		if deleted, err := p.reportProgress(ctx, doc, progress); err != nil {
			return err
		} else if deleted {
			return nil
		}
	}

	// 6. 标记完成
	if err := p.docRepo.MarkDone(doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("标记文档完成失败: %w", err)
	}
	p.notifier.NotifyProgress(doc.OwnerID, notify.ProgressUpdate{
		DocumentID: doc.ID,
		Status:     model.DocumentStatusDone,
		Progress:   100,
	})
	log.Infof("[Processor] 文档处理完成, DocumentID: %s, 分块数: %d", doc.ID, len(chunks))
	return nil
}

// reportProgress 更新进度并推送通知。
// 文档在处理途中被删除时回滚已写入的分块并静默结束（返回 deleted=true）。
func (p *Processor) reportProgress(ctx context.Context, doc *model.Document, progress int) (bool, error) {
	err := p.docRepo.UpdateProgress(doc.ID, progress)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		log.Infof("[Processor] 文档在处理过程中被删除, 回滚分块, DocumentID: %s", doc.ID)
		p.rollback(ctx, doc.ID)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("更新处理进度失败: %w", err)
	}
	p.notifier.NotifyProgress(doc.OwnerID, notify.ProgressUpdate{
		DocumentID: doc.ID,
		Status:     model.DocumentStatusProcessing,
		Progress:   progress,
	})
	return false, nil
}

// rollback 尽力删除已写入的分块记录与向量索引。
func (p *Processor) rollback(ctx context.Context, documentID string) {
	if err := p.chunkRepo.DeleteByDocumentID(documentID); err != nil {
		log.Errorf("[Processor] 回滚分块记录失败, DocumentID: %s, Error: %v", documentID, err)
	}
	if err := p.chunkIndexRepo.DeleteByDocumentID(ctx, documentID); err != nil {
		log.Errorf("[Processor] 回滚向量索引失败, DocumentID: %s, Error: %v", documentID, err)
	}
}

// fail 回滚分块、将文档标记为 FAILED 并推送终态通知。
func (p *Processor) fail(ctx context.Context, doc *model.Document, msg string, cause error) error {
	if cause != nil {
		log.Errorf("[Processor] %s, DocumentID: %s, Error: %v", msg, doc.ID, cause)
	} else {
		log.Errorf("[Processor] %s, DocumentID: %s", msg, doc.ID)
	}

	p.rollback(ctx, doc.ID)
	if err := p.docRepo.MarkFailed(doc.ID, msg); err != nil {
		log.Errorf("[Processor] 标记文档失败状态时出错, DocumentID: %s, Error: %v", doc.ID, err)
	}
	p.notifier.NotifyProgress(doc.OwnerID, notify.ProgressUpdate{
		DocumentID: doc.ID,
		Status:     model.DocumentStatusFailed,
		Progress:   100,
		Error:      msg,
	})

	if cause != nil {
		return fmt.Errorf("%s: %w", msg, cause)
	}
	return errors.New(msg)
}
