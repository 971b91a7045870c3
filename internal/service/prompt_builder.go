package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"documind-go/internal/config"
	"documind-go/internal/model"
)

const contextSeparator = "\n\n"

// PromptBuilder 将检索到的分块组装成带上下文约束的提问 prompt。
type PromptBuilder struct {
	cfg config.PromptConfig
}

// NewPromptBuilder 创建一个新的 PromptBuilder 实例。
func NewPromptBuilder(cfg config.PromptConfig) *PromptBuilder {
	return &PromptBuilder{cfg: cfg}
}

// Build 按顺序将分块填入上下文直至触达预算，返回组装好的 prompt
// 和实际纳入的分块序号（用于回答溯源）。
//
// 当分块分数高度聚集（极差小于 SimilarScoreRange）时，内容大概率近似
// 重复，上下文预算按 SimilarContextRatio 收缩以减少冗余。
func (b *PromptBuilder) Build(chunks []model.RetrievalResult, question string) (string, []int) {
	budget := b.effectiveBudget(chunks)

	var sb strings.Builder
	included := make([]int, 0, len(chunks))
	used := 0
	for _, chunk := range chunks {
		block := fmt.Sprintf("[Chunk %d]\n%s", chunk.ChunkIndex, b.truncateChunk(chunk.Content))
		cost := utf8.RuneCountInString(block)
		if len(included) > 0 {
			cost += utf8.RuneCountInString(contextSeparator)
		}
		if used+cost > budget {
			break
		}
		if len(included) > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(block)
		used += cost
		included = append(included, chunk.ChunkIndex)
	}

	prompt := fmt.Sprintf(`你是一个文档问答助手。请仅依据下面提供的文档内容回答问题，不要使用任何外部知识。如果文档内容不足以回答问题，请明确说明无法从文档中找到答案。

文档内容：
%s

问题：%s

回答：`, sb.String(), question)
	return prompt, included
}

// effectiveBudget 计算本次组装可用的上下文字符预算。
func (b *PromptBuilder) effectiveBudget(chunks []model.RetrievalResult) int {
	budget := b.cfg.MaxContextChars
	if len(chunks) < 2 {
		return budget
	}
	min, max := chunks[0].Score, chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	if max-min < b.cfg.SimilarScoreRange {
		budget = int(float64(budget) * b.cfg.SimilarContextRatio)
	}
	return budget
}

// truncateChunk 将分块正文截断到单块字符上限，截断时追加省略号标记。
func (b *PromptBuilder) truncateChunk(content string) string {
	runes := []rune(content)
	if len(runes) <= b.cfg.MaxChunkChars {
		return content
	}
	return string(runes[:b.cfg.MaxChunkChars]) + "…"
}
