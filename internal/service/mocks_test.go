package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"documind-go/internal/model"
	"documind-go/internal/repository"
	"documind-go/pkg/llm"
	"documind-go/pkg/tasks"
)

// --- 服务层共用的测试替身 ---

type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocRepo(docs ...*model.Document) *memDocRepo {
	r := &memDocRepo{docs: make(map[string]*model.Document)}
	for _, d := range docs {
		copied := *d
		r.docs[d.ID] = &copied
	}
	return r
}

func (r *memDocRepo) Create(doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *memDocRepo) FindByID(id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *memDocRepo) FindByIDAndOwner(id string, ownerID uint) (*model.Document, error) {
	doc, err := r.FindByID(id)
	if err != nil || doc.OwnerID != ownerID {
		return nil, repository.ErrDocumentNotFound
	}
	return doc, nil
}

func (r *memDocRepo) FindByOwner(ownerID uint) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []model.Document
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

func (r *memDocRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *memDocRepo) ClaimPending(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.Status != model.DocumentStatusPending {
		return false, nil
	}
	doc.Status = model.DocumentStatusProcessing
	doc.Progress = 0
	return true, nil
}

func (r *memDocRepo) MarkPendingForRetry(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.Status != model.DocumentStatusFailed {
		return false, nil
	}
	doc.Status = model.DocumentStatusPending
	doc.Progress = 0
	doc.ErrorMessage = ""
	return true, nil
}

func (r *memDocRepo) UpdateProgress(id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	doc.Progress = progress
	return nil
}

func (r *memDocRepo) MarkDone(id string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Status = model.DocumentStatusDone
		doc.Progress = 100
		doc.ChunkCount = chunkCount
	}
	return nil
}

func (r *memDocRepo) MarkFailed(id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Status = model.DocumentStatusFailed
		doc.Progress = 100
		doc.ErrorMessage = errMsg
	}
	return nil
}

type memChunkRepo struct {
	chunks  []model.Chunk
	deleted []string
}

func (r *memChunkRepo) Create(chunk *model.Chunk) error {
	r.chunks = append(r.chunks, *chunk)
	return nil
}

func (r *memChunkRepo) DeleteByDocumentID(documentID string) error {
	r.deleted = append(r.deleted, documentID)
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

func (r *memChunkRepo) FindByDocumentOrdered(documentID string, limit int) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, c := range r.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memChunkRepo) SearchLexical(ownerID uint, documentID string, terms []string, limit int) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, c := range r.chunks {
		if c.OwnerID != ownerID || c.DocumentID != documentID {
			continue
		}
		content := strings.ToLower(c.Content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				out = append(out, c)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memChunkIndexRepo struct {
	knnResults []model.RetrievalResult
	knnErr     error
	deleted    []string
}

func (r *memChunkIndexRepo) IndexChunk(ctx context.Context, chunk model.EsChunk) error { return nil }

func (r *memChunkIndexRepo) DeleteByDocumentID(ctx context.Context, documentID string) error {
	r.deleted = append(r.deleted, documentID)
	return nil
}

func (r *memChunkIndexRepo) SearchKNN(ctx context.Context, ownerID uint, documentID string, vector []float32, k int) ([]model.RetrievalResult, error) {
	if r.knnErr != nil {
		return nil, r.knnErr
	}
	if len(r.knnResults) > k {
		return r.knnResults[:k], nil
	}
	return r.knnResults, nil
}

type memConvRepo struct {
	mu       sync.Mutex
	messages map[string][]model.ChatMessage
	cleared  []string
}

func newMemConvRepo() *memConvRepo {
	return &memConvRepo{messages: make(map[string][]model.ChatMessage)}
}

func (r *memConvRepo) key(userID uint, documentID string) string {
	return fmt.Sprintf("%d|%s", userID, documentID)
}

func (r *memConvRepo) GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage{}, r.messages[r.key(userID, documentID)]...), nil
}

func (r *memConvRepo) AppendExchange(ctx context.Context, userID uint, documentID string, question, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(userID, documentID)
	now := time.Now()
	r.messages[k] = append(r.messages[k],
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return nil
}

func (r *memConvRepo) ClearHistory(ctx context.Context, userID uint, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, documentID)
	delete(r.messages, r.key(userID, documentID))
	return nil
}

type memStorage struct {
	objects map[string][]byte
	removed []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[objectName] = data
	return nil
}

func (s *memStorage) RemoveObject(ctx context.Context, objectName string) error {
	s.removed = append(s.removed, objectName)
	delete(s.objects, objectName)
	return nil
}

type memQueue struct {
	enqueued []tasks.DocumentProcessingTask
	err      error
}

func (q *memQueue) Enqueue(task tasks.DocumentProcessingTask) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, task)
	return nil
}

// fakeRetrieval 直接返回预置的检索结果，用于编排层测试。
type fakeRetrieval struct {
	results []model.RetrievalResult
	err     error
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, ownerID uint, documentID, query string, topK int) ([]model.RetrievalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// scriptedLLM 按脚本产出增量，可在中途注入错误或阻塞以配合取消测试。
type scriptedLLM struct {
	deltas    []string
	failAfter int           // 产出 N 个增量后返回错误，0 表示不失败
	blockCh   chan struct{} // 非 nil 时在产出全部增量后阻塞，直到通道关闭或 ctx 取消
}

func (l *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return strings.Join(l.deltas, ""), nil
}

func (l *scriptedLLM) Stream(ctx context.Context, prompt string, onDelta llm.DeltaFunc) error {
	for i, d := range l.deltas {
		if ctx.Err() != nil {
			return nil
		}
		if l.failAfter > 0 && i == l.failAfter {
			return errors.New("llm backend failure")
		}
		if err := onDelta(d); err != nil {
			return err
		}
	}
	if l.blockCh != nil {
		select {
		case <-l.blockCh:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
