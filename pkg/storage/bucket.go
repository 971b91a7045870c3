package storage

import (
	"context"
	"io"
)

// BucketStore 将全局 MinIO 客户端绑定到固定存储桶，
// 以小接口的形式供业务层与摄取流程注入使用。
type BucketStore struct {
	bucketName string
}

// NewBucketStore 创建一个绑定指定存储桶的 BucketStore。
func NewBucketStore(bucketName string) *BucketStore {
	return &BucketStore{bucketName: bucketName}
}

func (s *BucketStore) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	return PutObject(ctx, s.bucketName, objectName, reader, size, contentType)
}

func (s *BucketStore) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	return GetObject(ctx, s.bucketName, objectName)
}

func (s *BucketStore) RemoveObject(ctx context.Context, objectName string) error {
	return RemoveObject(ctx, s.bucketName, objectName)
}
