package repository

import (
	"strings"

	"documind-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 接口定义了分块文本的持久化操作。
// 分块表既是回滚删除的权威记录，也是词法检索通道的数据源。
type ChunkRepository interface {
	Create(chunk *model.Chunk) error
	DeleteByDocumentID(documentID string) error
	FindByDocumentOrdered(documentID string, limit int) ([]model.Chunk, error)
	// SearchLexical 用 LIKE 子串匹配检索包含任一检索词的分块。
	SearchLexical(ownerID uint, documentID string, terms []string, limit int) ([]model.Chunk, error)
}

// chunkRepository 是 ChunkRepository 接口的 GORM 实现。
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// Create 写入单条分块记录。
func (r *chunkRepository) Create(chunk *model.Chunk) error {
	return r.db.Create(chunk).Error
}

// DeleteByDocumentID 删除指定文档的全部分块。
func (r *chunkRepository) DeleteByDocumentID(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}

// FindByDocumentOrdered 按分块序号升序返回文档的前 limit 个分块。
// limit <= 0 时返回全部。
func (r *chunkRepository) FindByDocumentOrdered(documentID string, limit int) ([]model.Chunk, error) {
	var chunks []model.Chunk
	db := r.db.Where("document_id = ?", documentID).Order("chunk_index ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Find(&chunks).Error
	return chunks, err
}

// SearchLexical 检索正文中包含任一检索词的分块。
// 检索词作为 LIKE 子串匹配，需要转义 LIKE 元字符以免被解释为通配符。
func (r *chunkRepository) SearchLexical(ownerID uint, documentID string, terms []string, limit int) ([]model.Chunk, error) {
	if len(terms) == 0 {
		return []model.Chunk{}, nil
	}

	db := r.db.Where("owner_id = ? AND document_id = ?", ownerID, documentID)

	conds := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms))
	for _, term := range terms {
		conds = append(conds, "content LIKE ?")
		args = append(args, "%"+escapeLike(term)+"%")
	}
	db = db.Where(strings.Join(conds, " OR "), args...)

	var chunks []model.Chunk
	err := db.Order("chunk_index ASC").Limit(limit).Find(&chunks).Error
	return chunks, err
}

// escapeLike 转义 LIKE 模式中的 \、% 和 _。
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
