package repository

import (
	"errors"

	"documind-go/internal/model"

	"gorm.io/gorm"
)

// ErrDocumentNotFound 表示目标文档不存在（或已被删除）。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByIDAndOwner(id string, ownerID uint) (*model.Document, error)
	FindByOwner(ownerID uint) ([]model.Document, error)
	Delete(id string) error
	// ClaimPending 将 PENDING 状态的文档置为 PROCESSING。
	// 若文档不处于 PENDING（任务已过期或被抢占），返回 false。
	ClaimPending(id string) (bool, error)
	// MarkPendingForRetry 将 FAILED 状态的文档重置为 PENDING。
	// 若文档不处于 FAILED，返回 false。
	MarkPendingForRetry(id string) (bool, error)
	// UpdateProgress 更新处理进度。文档已被删除时返回 ErrDocumentNotFound。
	UpdateProgress(id string, progress int) error
	MarkDone(id string, chunkCount int) error
	MarkFailed(id string, errMsg string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据文档 ID 查找文档，不存在时返回 ErrDocumentNotFound。
func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDAndOwner 查找属于指定用户的文档。
// 文档存在但属于他人时同样返回 ErrDocumentNotFound，避免泄露存在性。
func (r *documentRepository) FindByIDAndOwner(id string, ownerID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 按创建时间倒序返回用户的全部文档。
func (r *documentRepository) FindByOwner(ownerID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// Delete 删除文档记录。
func (r *documentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Document{}).Error
}

// ClaimPending 以条件更新的方式抢占 PENDING 文档。
func (r *documentRepository) ClaimPending(id string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.DocumentStatusPending).
		Updates(map[string]interface{}{
			"status":        model.DocumentStatusProcessing,
			"progress":      0,
			"error_message": "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkPendingForRetry 以条件更新的方式重置 FAILED 文档。
func (r *documentRepository) MarkPendingForRetry(id string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.DocumentStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.DocumentStatusPending,
			"progress":      0,
			"error_message": "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateProgress 更新处理进度。
// MySQL 的 affected rows 只统计实际变更的行，因此 RowsAffected == 0
// 既可能是进度值未变化，也可能是文档已被删除，需要再查一次加以区分。
func (r *documentRepository) UpdateProgress(id string, progress int) error {
	res := r.db.Model(&model.Document{}).Where("id = ?", id).Update("progress", progress)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var doc model.Document
		err := r.db.Select("id").Where("id = ?", id).First(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	return nil
}

// MarkDone 将文档置为 DONE，进度 100。
func (r *documentRepository) MarkDone(id string, chunkCount int) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.DocumentStatusDone,
			"progress":    100,
			"chunk_count": chunkCount,
		}).Error
}

// MarkFailed 将文档置为 FAILED，进度 100，并记录失败原因。
func (r *documentRepository) MarkFailed(id string, errMsg string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.DocumentStatusFailed,
			"progress":      100,
			"error_message": errMsg,
		}).Error
}
