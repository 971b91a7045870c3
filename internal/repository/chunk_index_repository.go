package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"documind-go/internal/model"
	"documind-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ChunkIndexRepository 接口定义了分块向量索引的操作，是稠密检索通道的数据源。
type ChunkIndexRepository interface {
	IndexChunk(ctx context.Context, chunk model.EsChunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
	// SearchKNN 在指定文档范围内做 k 近邻检索，返回结果按相似度降序。
	// Score 为余弦相似度（1 - 余弦距离）。
	SearchKNN(ctx context.Context, ownerID uint, documentID string, vector []float32, k int) ([]model.RetrievalResult, error)
}

// esChunkIndexRepository 是 ChunkIndexRepository 的 Elasticsearch 实现。
type esChunkIndexRepository struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewChunkIndexRepository 创建一个新的 ChunkIndexRepository 实例。
func NewChunkIndexRepository(esClient *elasticsearch.Client, indexName string) ChunkIndexRepository {
	return &esChunkIndexRepository{esClient: esClient, indexName: indexName}
}

// IndexChunk 将单个分块向量索引到 Elasticsearch。
func (r *esChunkIndexRepository) IndexChunk(ctx context.Context, chunk model.EsChunk) error {
	docBytes, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      r.indexName,
		DocumentID: chunk.ChunkKey,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, r.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引分块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunk")
	}

	return nil
}

// DeleteByDocumentID 删除指定文档的全部向量，用于回滚与文档删除。
func (r *esChunkIndexRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"document_id": documentID,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}

	res, err := r.esClient.DeleteByQuery(
		[]string{r.indexName},
		&buf,
		r.esClient.DeleteByQuery.WithContext(ctx),
		r.esClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("从 Elasticsearch 删除文档分块出错: %s", res.String())
		return errors.New("failed to delete chunks from index")
	}
	return nil
}

// SearchKNN 执行向量 k 近邻检索。
func (r *esChunkIndexRepository) SearchKNN(ctx context.Context, ownerID uint, documentID string, vector []float32, k int) ([]model.RetrievalResult, error) {
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{
					"must": []map[string]interface{}{
						{"term": map[string]interface{}{"document_id": documentID}},
						{"term": map[string]interface{}{"owner_id": ownerID}},
					},
				},
			},
		},
		"size": k,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(r.indexName),
		r.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.RetrievalResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		// ES 对 cosine 相似度的 _score 为 (1 + cos) / 2，
		// 这里换算回余弦相似度本身。
		results = append(results, model.RetrievalResult{
			DocumentID: hit.Source.DocumentID,
			ChunkIndex: hit.Source.ChunkIndex,
			Content:    hit.Source.Content,
			Score:      2*hit.Score - 1,
		})
	}
	return results, nil
}
