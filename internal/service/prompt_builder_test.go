package service

import (
	"strings"
	"testing"

	"documind-go/internal/config"
	"documind-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPromptConfig() config.PromptConfig {
	return config.PromptConfig{
		MaxChunkChars:       50,
		MaxContextChars:     200,
		SimilarScoreRange:   0.1,
		SimilarContextRatio: 0.6,
	}
}

func TestPromptBuilderIncludesChunksInOrder(t *testing.T) {
	b := NewPromptBuilder(testPromptConfig())

	prompt, included := b.Build([]model.RetrievalResult{
		{ChunkIndex: 2, Content: "second best", Score: 0.9},
		{ChunkIndex: 0, Content: "best match", Score: 0.5},
	}, "what is this?")

	assert.Equal(t, []int{2, 0}, included)
	assert.Contains(t, prompt, "[Chunk 2]\nsecond best")
	assert.Contains(t, prompt, "[Chunk 0]\nbest match")
	assert.Contains(t, prompt, "what is this?")
	// 指令约束模型仅依据文档内容作答
	assert.Contains(t, prompt, "仅依据")
}

func TestPromptBuilderTruncatesLongChunk(t *testing.T) {
	b := NewPromptBuilder(testPromptConfig())

	long := strings.Repeat("字", 80)
	prompt, included := b.Build([]model.RetrievalResult{
		{ChunkIndex: 0, Content: long, Score: 0.3},
	}, "q")

	assert.Equal(t, []int{0}, included)
	assert.Contains(t, prompt, strings.Repeat("字", 50)+"…")
	assert.NotContains(t, prompt, strings.Repeat("字", 51))
}

func TestPromptBuilderStopsAtBudget(t *testing.T) {
	b := NewPromptBuilder(testPromptConfig())

	// 每块 49 字符（含 "[Chunk N]\n" 头），加分隔符后第四块会把
	// 总量推到 202，超出 200 的预算，到此为止
	chunk := strings.Repeat("x", 39)
	chunks := make([]model.RetrievalResult, 6)
	for i := range chunks {
		chunks[i] = model.RetrievalResult{ChunkIndex: i, Content: chunk, Score: 1.0 - float64(i)*0.2}
	}

	_, included := b.Build(chunks, "q")
	assert.Equal(t, []int{0, 1, 2}, included)
}

func TestPromptBuilderShrinksBudgetForClusteredScores(t *testing.T) {
	b := NewPromptBuilder(testPromptConfig())
	chunk := strings.Repeat("x", 39)

	spread := []model.RetrievalResult{
		{ChunkIndex: 0, Content: chunk, Score: 0.9},
		{ChunkIndex: 1, Content: chunk, Score: 0.5},
		{ChunkIndex: 2, Content: chunk, Score: 0.1},
	}
	clustered := []model.RetrievalResult{
		{ChunkIndex: 0, Content: chunk, Score: 0.90},
		{ChunkIndex: 1, Content: chunk, Score: 0.88},
		{ChunkIndex: 2, Content: chunk, Score: 0.86},
	}

	_, spreadIncluded := b.Build(spread, "q")
	_, clusteredIncluded := b.Build(clustered, "q")

	// 分数高度聚集时预算收缩（200 -> 120），纳入的分块更少
	require.NotEmpty(t, clusteredIncluded)
	assert.Less(t, len(clusteredIncluded), len(spreadIncluded))
}

func TestPromptBuilderSingleChunkKeepsFullBudget(t *testing.T) {
	b := NewPromptBuilder(testPromptConfig())

	_, included := b.Build([]model.RetrievalResult{
		{ChunkIndex: 0, Content: "only one", Score: 0.9},
	}, "q")
	assert.Equal(t, []int{0}, included)
}
