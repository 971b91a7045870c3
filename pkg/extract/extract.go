// Package extract 提供了从上传文件中提取纯文本的能力。
package extract

import (
	"context"
	"io"

	"documind-go/internal/config"
)

// Extractor 定义了文本提取器的接口。
type Extractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// NewExtractor 根据配置中的 provider 创建对应的提取器。
// "tika" 走外部 Tika 服务，其余情况使用进程内 PDF 解析。
func NewExtractor(cfg config.ExtractConfig) Extractor {
	if cfg.Provider == "tika" {
		return NewTikaExtractor(cfg.TikaServerURL)
	}
	return NewLocalPDFExtractor()
}
