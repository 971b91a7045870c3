package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"documind-go/internal/config"
	"documind-go/internal/model"
	"documind-go/internal/repository"
	"documind-go/pkg/embedding"
	"documind-go/pkg/log"
)

// ErrDocumentNotReady 表示文档存在但尚未完成摄取，暂不可检索。
var ErrDocumentNotReady = errors.New("document is not ready for retrieval")

// RetrievalService 接口定义了混合检索操作。
type RetrievalService interface {
	// Retrieve 在指定文档内检索与 query 最相关的分块。
	// 文档不存在或不属于调用者时返回空结果而非错误；
	// 文档未完成摄取时返回 ErrDocumentNotReady。
	Retrieve(ctx context.Context, ownerID uint, documentID, query string, topK int) ([]model.RetrievalResult, error)
}

type retrievalService struct {
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	chunkIndexRepo  repository.ChunkIndexRepository
	embeddingClient embedding.Client
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	chunkIndexRepo repository.ChunkIndexRepository,
	embeddingClient embedding.Client,
	cfg config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		chunkIndexRepo:  chunkIndexRepo,
		embeddingClient: embeddingClient,
		cfg:             cfg,
	}
}

// Retrieve 执行稠密 + 词法双通道混合检索。
func (s *retrievalService) Retrieve(ctx context.Context, ownerID uint, documentID, query string, topK int) ([]model.RetrievalResult, error) {
	topK = s.clampTopK(topK)

	// 1. 文档归属检查与查询向量化互不依赖，并发执行
	type docResult struct {
		doc *model.Document
		err error
	}
	docCh := make(chan docResult, 1)
	go func() {
		doc, err := s.docRepo.FindByIDAndOwner(documentID, ownerID)
		docCh <- docResult{doc: doc, err: err}
	}()

	vector, embErr := s.embeddingClient.CreateEmbedding(ctx, query)
	dr := <-docCh

	if errors.Is(dr.err, repository.ErrDocumentNotFound) {
		// 不存在与无权访问同样表现为空结果，避免泄露文档存在性
		return []model.RetrievalResult{}, nil
	}
	if dr.err != nil {
		return nil, dr.err
	}
	if dr.doc.Status != model.DocumentStatusDone {
		return nil, fmt.Errorf("%w: status is %s", ErrDocumentNotReady, dr.doc.Status)
	}
	if embErr != nil {
		return nil, fmt.Errorf("向量化查询失败: %w", embErr)
	}

	// 2. 稠密通道：向量近邻检索
	dense, err := s.chunkIndexRepo.SearchKNN(ctx, ownerID, documentID, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	if len(dense) == 0 {
		// 向量检索零命中时退化为按分块序号取前 K 个。
		// 这也可能掩盖向量维度不匹配之类的索引问题，因此记录告警。
		log.Warnf("向量检索零命中, 退化为按序号取前 %d 个分块, DocumentID: %s", topK, documentID)
		chunks, err := s.chunkRepo.FindByDocumentOrdered(documentID, topK)
		if err != nil {
			return nil, fmt.Errorf("读取分块失败: %w", err)
		}
		for _, c := range chunks {
			dense = append(dense, model.RetrievalResult{
				DocumentID: c.DocumentID,
				ChunkIndex: c.ChunkIndex,
				Content:    c.Content,
				Score:      s.cfg.FallbackScore,
			})
		}
	}

	// 3. 词法通道：关键词子串匹配
	var lexical []model.Chunk
	if terms := tokenizeQuery(query); len(terms) > 0 {
		lexical, err = s.chunkRepo.SearchLexical(ownerID, documentID, terms, s.cfg.LexicalLimit)
		if err != nil {
			return nil, fmt.Errorf("词法检索失败: %w", err)
		}
	}

	// 4. 合并、归一化、排序、截断
	merged := s.merge(dense, lexical)
	normalizeScores(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkIndex < merged[j].ChunkIndex
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	// 5. 分数骤降截断：优先保留紧凑的高置信分块
	return s.trimOnScoreDrop(merged), nil
}

// clampTopK 将 topK 收敛到合法区间。
func (s *retrievalService) clampTopK(topK int) int {
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK < 1 {
		topK = 1
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}
	return topK
}

// merge 按分块标识合并两个通道的结果。
// 仅词法命中的分块得到固定基础分；双通道命中的分块在稠密分上叠加奖励。
func (s *retrievalService) merge(dense []model.RetrievalResult, lexical []model.Chunk) []model.RetrievalResult {
	merged := make([]model.RetrievalResult, len(dense))
	copy(merged, dense)

	byKey := make(map[string]int, len(merged))
	for i, r := range merged {
		byKey[model.ChunkKey(r.DocumentID, r.ChunkIndex)] = i
	}

	for _, c := range lexical {
		if i, ok := byKey[c.Key()]; ok {
			merged[i].Score += s.cfg.HybridBoost
			continue
		}
		byKey[c.Key()] = len(merged)
		merged = append(merged, model.RetrievalResult{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Score:      s.cfg.LexicalBaseScore,
		})
	}
	return merged
}

// trimOnScoreDrop 从头遍历已排序结果，分数相对前一保留项骤降超过阈值时截断。
func (s *retrievalService) trimOnScoreDrop(results []model.RetrievalResult) []model.RetrievalResult {
	for i := 1; i < len(results); i++ {
		if results[i-1].Score-results[i].Score > s.cfg.ScoreDropThreshold {
			return results[:i]
		}
	}
	return results
}

// normalizeScores 对分数做 min-max 归一化到 [0,1]；全部相等时统一归一为 1。
func normalizeScores(results []model.RetrievalResult) {
	if len(results) == 0 {
		return
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	for i := range results {
		if max == min {
			results[i].Score = 1.0
		} else {
			results[i].Score = (results[i].Score - min) / (max - min)
		}
	}
}

var nonWordPattern = regexp.MustCompile(`\W+`)

// tokenizeQuery 将查询切分为检索词：小写、按非单词字符切分、
// 丢弃短于 3 个字符的词并去重（保持出现顺序）。
func tokenizeQuery(query string) []string {
	parts := nonWordPattern.Split(strings.ToLower(query), -1)
	seen := make(map[string]struct{}, len(parts))
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if utf8.RuneCountInString(p) < 3 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		terms = append(terms, p)
	}
	return terms
}
