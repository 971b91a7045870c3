package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// localPDFExtractor 在进程内解析 PDF，不依赖外部服务。
type localPDFExtractor struct{}

// NewLocalPDFExtractor 创建一个进程内 PDF 提取器。
func NewLocalPDFExtractor() Extractor {
	return &localPDFExtractor{}
}

// ExtractText 将文件内容读入内存后解析 PDF 正文。
// 扫描件等无文本层的 PDF 会得到空字符串而不是错误，
// 由上层决定如何处理"无可提取文本"的文档。
func (e *localPDFExtractor) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(fileReader)
	if err != nil {
		return "", fmt.Errorf("读取文件内容失败: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析 PDF 失败 (%s): %w", fileName, err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		// 无文本层（如纯扫描件）按空文本处理
		return "", nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", fmt.Errorf("读取 PDF 文本失败: %w", err)
	}
	return buf.String(), nil
}
