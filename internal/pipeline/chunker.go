// Package pipeline 定义了文档摄取的核心流程。
package pipeline

// 默认分块参数，窗口与重叠均以字符（rune）计。
const (
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 100
)

// Chunker 将长文本切分为带重叠的定长窗口。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建一个分块器。size 必须为正且大于 overlap，
// 参数非法时回退到默认值。
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
		overlap = DefaultChunkOverlap
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = 0
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split 将文本切分为分块序列。
// 窗口按 rune 切分，避免把多字节字符切成两半；
// 相邻窗口重叠 overlap 个字符。空文本产出一个空分块，
// 保证每个文档至少有一个序号为 0 的分块。
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
