package model

import "fmt"

// Chunk 对应于数据库中的 chunks 表。
// 它保存切分后的文本块，是词法检索与回滚删除的权威记录。
type Chunk struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID string `gorm:"type:varchar(36);not null;index" json:"documentId"`
	ChunkIndex int    `gorm:"not null" json:"chunkIndex"`
	Content    string `gorm:"type:text" json:"content"`
	OwnerID    uint   `gorm:"not null;index" json:"ownerId"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "chunks"
}

// Key 返回该分块在向量索引中的唯一标识。
func (c Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.ChunkIndex)
}

// ChunkKey 由文档 ID 与分块序号拼出向量索引的文档 ID。
func ChunkKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}

// EsChunk 代表存储在 Elasticsearch 中的分块结构。
type EsChunk struct {
	ChunkKey   string    `json:"chunk_key"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Vector     []float32 `json:"vector"` // 文本内容的向量表示
	OwnerID    uint      `json:"owner_id"`
}

// RetrievalResult 是单条检索结果，Score 越大越相关。
type RetrievalResult struct {
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// AnswerSource 是回答引用的来源分块，不携带正文。
type AnswerSource struct {
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}
