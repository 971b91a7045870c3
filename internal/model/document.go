package model

import "time"

// 文档处理状态。状态机只允许
// PENDING -> PROCESSING -> DONE/FAILED，以及 FAILED -> PENDING（重试）。
const (
	DocumentStatusPending    = "PENDING"
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusDone       = "DONE"
	DocumentStatusFailed     = "FAILED"
)

// Document 定义了 documents 表的 ORM 模型。
// 它记录了每个上传文档的元数据与摄取进度。
type Document struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID      uint      `gorm:"not null;index" json:"ownerId"`
	FileName     string    `gorm:"type:varchar(255);not null" json:"fileName"`
	FilePath     string    `gorm:"type:varchar(255)" json:"-"` // MinIO 对象键，删除文件后置空
	FileSize     int64     `gorm:"not null;default:0" json:"fileSize"`
	Status       string    `gorm:"type:varchar(16);not null;default:'PENDING'" json:"status"`
	Progress     int       `gorm:"not null;default:0" json:"progress"`
	ErrorMessage string    `gorm:"type:text" json:"errorMessage,omitempty"`
	ChunkCount   int       `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
