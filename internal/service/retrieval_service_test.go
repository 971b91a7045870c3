package service

import (
	"context"
	"errors"
	"testing"

	"documind-go/internal/config"
	"documind-go/internal/model"
	"documind-go/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		DefaultTopK:        4,
		MaxTopK:            20,
		LexicalBaseScore:   0.35,
		HybridBoost:        0.2,
		ScoreDropThreshold: 0.15,
		FallbackScore:      0.5,
		LexicalLimit:       20,
	}
}

func doneDoc(id string, ownerID uint) *model.Document {
	return &model.Document{ID: id, OwnerID: ownerID, Status: model.DocumentStatusDone}
}

func newTestRetrieval(docRepo *memDocRepo, chunkRepo *memChunkRepo, indexRepo *memChunkIndexRepo) RetrievalService {
	return NewRetrievalService(docRepo, chunkRepo, indexRepo, embedding.NewStubClient(8), testRetrievalConfig())
}

func TestRetrieveMissingDocumentReturnsEmpty(t *testing.T) {
	s := newTestRetrieval(newMemDocRepo(), &memChunkRepo{}, &memChunkIndexRepo{})

	results, err := s.Retrieve(context.Background(), 7, "nope", "anything useful", 4)

	// 不存在的文档不是错误，表现为空结果
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveUnownedDocumentReturnsEmpty(t *testing.T) {
	s := newTestRetrieval(newMemDocRepo(doneDoc("d1", 1)), &memChunkRepo{}, &memChunkIndexRepo{})

	results, err := s.Retrieve(context.Background(), 7, "d1", "anything useful", 4)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveNotReadyDocument(t *testing.T) {
	doc := doneDoc("d1", 7)
	doc.Status = model.DocumentStatusProcessing
	s := newTestRetrieval(newMemDocRepo(doc), &memChunkRepo{}, &memChunkIndexRepo{})

	_, err := s.Retrieve(context.Background(), 7, "d1", "anything useful", 4)

	assert.ErrorIs(t, err, ErrDocumentNotReady)
}

func TestRetrieveEmbeddingFailurePropagates(t *testing.T) {
	s := NewRetrievalService(
		newMemDocRepo(doneDoc("d1", 7)), &memChunkRepo{}, &memChunkIndexRepo{},
		failEmbedder{}, testRetrievalConfig())

	_, err := s.Retrieve(context.Background(), 7, "d1", "anything useful", 4)
	assert.Error(t, err)
}

func TestRetrieveHybridBoostWinsAndTrims(t *testing.T) {
	chunkRepo := &memChunkRepo{chunks: []model.Chunk{
		{DocumentID: "d1", ChunkIndex: 1, Content: "the keyword appears here", OwnerID: 7},
	}}
	indexRepo := &memChunkIndexRepo{knnResults: []model.RetrievalResult{
		{DocumentID: "d1", ChunkIndex: 0, Content: "plain dense hit", Score: 0.8},
		{DocumentID: "d1", ChunkIndex: 1, Content: "the keyword appears here", Score: 0.7},
	}}
	s := newTestRetrieval(newMemDocRepo(doneDoc("d1", 7)), chunkRepo, indexRepo)

	results, err := s.Retrieve(context.Background(), 7, "d1", "keyword", 4)
	require.NoError(t, err)

	// 双通道命中的分块（0.7 + 0.2 = 0.9）超过纯稠密命中（0.8），
	// 归一化后为 1.0 并领先，分数骤降截断只保留它
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestRetrieveLexicalOnlyChunkGetsBaseScore(t *testing.T) {
	chunkRepo := &memChunkRepo{chunks: []model.Chunk{
		{DocumentID: "d1", ChunkIndex: 3, Content: "only lexical keyword match", OwnerID: 7},
	}}
	indexRepo := &memChunkIndexRepo{knnResults: []model.RetrievalResult{
		{DocumentID: "d1", ChunkIndex: 0, Content: "dense hit", Score: 0.35},
	}}
	s := newTestRetrieval(newMemDocRepo(doneDoc("d1", 7)), chunkRepo, indexRepo)

	results, err := s.Retrieve(context.Background(), 7, "d1", "keyword", 4)
	require.NoError(t, err)

	// 两个通道分数相等（0.35），全体归一化为 1.0，无截断
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 1.0, r.Score)
	}
}

func TestRetrieveFallbackToChunkOrder(t *testing.T) {
	chunkRepo := &memChunkRepo{chunks: []model.Chunk{
		{DocumentID: "d1", ChunkIndex: 0, Content: "first", OwnerID: 7},
		{DocumentID: "d1", ChunkIndex: 1, Content: "second", OwnerID: 7},
		{DocumentID: "d1", ChunkIndex: 2, Content: "third", OwnerID: 7},
	}}
	s := newTestRetrieval(newMemDocRepo(doneDoc("d1", 7)), chunkRepo, &memChunkIndexRepo{})

	// 查询无有效检索词，词法通道也为空，完全依赖兜底
	results, err := s.Retrieve(context.Background(), 7, "d1", "到底 是 啥", 4)
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.ChunkIndex)
		assert.Equal(t, 1.0, r.Score)
	}
}

func TestClampTopK(t *testing.T) {
	s := newTestRetrieval(newMemDocRepo(), &memChunkRepo{}, &memChunkIndexRepo{}).(*retrievalService)

	assert.Equal(t, 4, s.clampTopK(0))
	assert.Equal(t, 4, s.clampTopK(-3))
	assert.Equal(t, 1, s.clampTopK(1))
	assert.Equal(t, 20, s.clampTopK(50))
	assert.Equal(t, 7, s.clampTopK(7))
}

func TestTrimOnScoreDrop(t *testing.T) {
	s := newTestRetrieval(newMemDocRepo(), &memChunkRepo{}, &memChunkIndexRepo{}).(*retrievalService)

	trimmed := s.trimOnScoreDrop([]model.RetrievalResult{
		{ChunkIndex: 0, Score: 0.90},
		{ChunkIndex: 1, Score: 0.85},
		{ChunkIndex: 2, Score: 0.50},
	})

	// 0.85 -> 0.50 的骤降超过 0.15，从此处截断
	require.Len(t, trimmed, 2)
	assert.Equal(t, 0.90, trimmed[0].Score)
	assert.Equal(t, 0.85, trimmed[1].Score)
}

func TestTokenizeQuery(t *testing.T) {
	terms := tokenizeQuery("What IS the Query, the query?!")

	// 小写、丢弃短词、去重且保持顺序
	assert.Equal(t, []string{"what", "the", "query"}, terms)
}

func TestNormalizeScoresAllEqual(t *testing.T) {
	results := []model.RetrievalResult{{Score: 0.42}, {Score: 0.42}}
	normalizeScores(results)

	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 1.0, results[1].Score)
}

type failEmbedder struct{}

func (failEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding provider down")
}

func (failEmbedder) Dimension() int { return 8 }
