// Package tasks defines the structure for jobs that are sent to Kafka.
package tasks

// DocumentProcessingTask 是投递到 Kafka 的文档处理任务载荷。
// 只携带文档与归属者标识，其余信息由 Processor 从数据库加载。
type DocumentProcessingTask struct {
	DocumentID string `json:"document_id"`
	OwnerID    uint   `json:"owner_id"`
}
