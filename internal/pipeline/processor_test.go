package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"documind-go/internal/model"
	"documind-go/internal/notify"
	"documind-go/internal/repository"
	"documind-go/pkg/embedding"
	"documind-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 测试替身 ---

type fakeDocRepo struct {
	doc *model.Document
	// 第 N 次 UpdateProgress 起返回 ErrDocumentNotFound，0 表示不触发
	deleteOnProgressCall int
	progressCalls        int
	progressValues       []int
	doneChunkCount       int
	doneCalled           bool
	failedMsg            string
}

func (r *fakeDocRepo) Create(doc *model.Document) error { return nil }

func (r *fakeDocRepo) FindByID(id string) (*model.Document, error) {
	if r.doc == nil || r.doc.ID != id {
		return nil, repository.ErrDocumentNotFound
	}
	copied := *r.doc
	return &copied, nil
}

func (r *fakeDocRepo) FindByIDAndOwner(id string, ownerID uint) (*model.Document, error) {
	doc, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, repository.ErrDocumentNotFound
	}
	return doc, nil
}

func (r *fakeDocRepo) FindByOwner(ownerID uint) ([]model.Document, error) { return nil, nil }
func (r *fakeDocRepo) Delete(id string) error                             { return nil }

func (r *fakeDocRepo) ClaimPending(id string) (bool, error) {
	if r.doc == nil || r.doc.Status != model.DocumentStatusPending {
		return false, nil
	}
	r.doc.Status = model.DocumentStatusProcessing
	return true, nil
}

func (r *fakeDocRepo) MarkPendingForRetry(id string) (bool, error) { return false, nil }

func (r *fakeDocRepo) UpdateProgress(id string, progress int) error {
	r.progressCalls++
	if r.deleteOnProgressCall > 0 && r.progressCalls >= r.deleteOnProgressCall {
		return repository.ErrDocumentNotFound
	}
	r.progressValues = append(r.progressValues, progress)
	return nil
}

func (r *fakeDocRepo) MarkDone(id string, chunkCount int) error {
	r.doneCalled = true
	r.doneChunkCount = chunkCount
	return nil
}

func (r *fakeDocRepo) MarkFailed(id string, errMsg string) error {
	r.failedMsg = errMsg
	return nil
}

type fakeChunkRepo struct {
	created []model.Chunk
	deleted bool
}

func (r *fakeChunkRepo) Create(chunk *model.Chunk) error {
	r.created = append(r.created, *chunk)
	return nil
}

func (r *fakeChunkRepo) DeleteByDocumentID(documentID string) error {
	r.deleted = true
	r.created = nil
	return nil
}

func (r *fakeChunkRepo) FindByDocumentOrdered(documentID string, limit int) ([]model.Chunk, error) {
	return r.created, nil
}

func (r *fakeChunkRepo) SearchLexical(ownerID uint, documentID string, terms []string, limit int) ([]model.Chunk, error) {
	return nil, nil
}

type fakeChunkIndexRepo struct {
	indexed  []model.EsChunk
	deleted  bool
	indexErr error
}

func (r *fakeChunkIndexRepo) IndexChunk(ctx context.Context, chunk model.EsChunk) error {
	if r.indexErr != nil {
		return r.indexErr
	}
	r.indexed = append(r.indexed, chunk)
	return nil
}

func (r *fakeChunkIndexRepo) DeleteByDocumentID(ctx context.Context, documentID string) error {
	r.deleted = true
	r.indexed = nil
	return nil
}

func (r *fakeChunkIndexRepo) SearchKNN(ctx context.Context, ownerID uint, documentID string, vector []float32, k int) ([]model.RetrievalResult, error) {
	return nil, nil
}

type fakeStore struct {
	content []byte
}

func (s *fakeStore) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.content)), nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	return e.text, e.err
}

type failingEmbedder struct{}

func (failingEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding backend down")
}

func (failingEmbedder) Dimension() int { return 8 }

type fakeNotifier struct {
	updates []notify.ProgressUpdate
}

func (n *fakeNotifier) NotifyProgress(ownerID uint, update notify.ProgressUpdate) {
	n.updates = append(n.updates, update)
}

func (n *fakeNotifier) last() notify.ProgressUpdate {
	return n.updates[len(n.updates)-1]
}

// --- 测试 ---

func pendingDoc() *model.Document {
	return &model.Document{
		ID:       "doc-1",
		OwnerID:  7,
		FileName: "report.pdf",
		FilePath: "documents/doc-1.pdf",
		Status:   model.DocumentStatusPending,
	}
}

func newTestProcessor(docRepo *fakeDocRepo, chunkRepo *fakeChunkRepo, indexRepo *fakeChunkIndexRepo, extractor *fakeExtractor, emb embedding.Client, notifier *fakeNotifier) *Processor {
	return NewProcessor(
		docRepo, chunkRepo, indexRepo,
		&fakeStore{content: []byte("%PDF-1.4 fake")},
		extractor,
		NewChunker(10, 3),
		emb,
		notifier,
	)
}

func TestProcessorSuccess(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}
	chunkRepo := &fakeChunkRepo{}
	indexRepo := &fakeChunkIndexRepo{}
	notifier := &fakeNotifier{}

	p := newTestProcessor(docRepo, chunkRepo, indexRepo,
		&fakeExtractor{text: "abcdefghijklmnop"}, // 两个分块
		embedding.NewStubClient(8), notifier)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.NoError(t, err)

	// 分块落库且序号连续
	require.Len(t, chunkRepo.created, 2)
	assert.Equal(t, 0, chunkRepo.created[0].ChunkIndex)
	assert.Equal(t, 1, chunkRepo.created[1].ChunkIndex)
	assert.Equal(t, uint(7), chunkRepo.created[0].OwnerID)

	// 每个分块都写入了向量索引
	require.Len(t, indexRepo.indexed, 2)
	assert.Equal(t, "doc-1:0", indexRepo.indexed[0].ChunkKey)
	assert.Len(t, indexRepo.indexed[0].Vector, 8)

	// 终态为 DONE，分块数正确
	assert.True(t, docRepo.doneCalled)
	assert.Equal(t, 2, docRepo.doneChunkCount)
	assert.Equal(t, model.DocumentStatusDone, notifier.last().Status)
	assert.Equal(t, 100, notifier.last().Progress)
}

func TestProcessorProgressSequence(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}
	notifier := &fakeNotifier{}

	p := newTestProcessor(docRepo, &fakeChunkRepo{}, &fakeChunkIndexRepo{},
		&fakeExtractor{text: "abcdefghijklmnopqrstu"}, // 三个分块
		embedding.NewStubClient(8), notifier)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.NoError(t, err)

	// 提取后 30，随后在 30~90 之间线性推进
	assert.Equal(t, []int{30, 50, 70, 90}, docRepo.progressValues)
	// 进度单调不减
	prev := -1
	for _, u := range notifier.updates {
		assert.GreaterOrEqual(t, u.Progress, prev)
		prev = u.Progress
	}
}

func TestProcessorEmptyTextProducesSingleEmptyChunk(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}
	chunkRepo := &fakeChunkRepo{}

	p := newTestProcessor(docRepo, chunkRepo, &fakeChunkIndexRepo{},
		&fakeExtractor{text: ""},
		embedding.NewStubClient(8), &fakeNotifier{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.NoError(t, err)

	// 无可提取文本的文档也正常完成，只有一个空分块
	require.Len(t, chunkRepo.created, 1)
	assert.Equal(t, "", chunkRepo.created[0].Content)
	assert.True(t, docRepo.doneCalled)
	assert.Equal(t, 1, docRepo.doneChunkCount)
}

func TestProcessorMissingDocumentSkips(t *testing.T) {
	docRepo := &fakeDocRepo{doc: nil}
	chunkRepo := &fakeChunkRepo{}

	p := newTestProcessor(docRepo, chunkRepo, &fakeChunkIndexRepo{},
		&fakeExtractor{text: "hello"},
		embedding.NewStubClient(8), &fakeNotifier{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})

	// 文档不存在属于过期任务，静默成功
	assert.NoError(t, err)
	assert.Empty(t, chunkRepo.created)
	assert.Empty(t, docRepo.failedMsg)
}

func TestProcessorStaleJobSkips(t *testing.T) {
	doc := pendingDoc()
	doc.Status = model.DocumentStatusDone
	docRepo := &fakeDocRepo{doc: doc}
	notifier := &fakeNotifier{}

	p := newTestProcessor(docRepo, &fakeChunkRepo{}, &fakeChunkIndexRepo{},
		&fakeExtractor{text: "hello"},
		embedding.NewStubClient(8), notifier)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})

	assert.NoError(t, err)
	assert.Empty(t, notifier.updates)
	assert.False(t, docRepo.doneCalled)
}

func TestProcessorOwnerMismatchSkips(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}

	p := newTestProcessor(docRepo, &fakeChunkRepo{}, &fakeChunkIndexRepo{},
		&fakeExtractor{text: "hello"},
		embedding.NewStubClient(8), &fakeNotifier{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 99})

	assert.NoError(t, err)
	assert.Equal(t, model.DocumentStatusPending, docRepo.doc.Status)
}

func TestProcessorEmbeddingFailureRollsBack(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}
	chunkRepo := &fakeChunkRepo{}
	indexRepo := &fakeChunkIndexRepo{}
	notifier := &fakeNotifier{}

	p := newTestProcessor(docRepo, chunkRepo, indexRepo,
		&fakeExtractor{text: "abcdefghijklmnop"},
		failingEmbedder{}, notifier)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.Error(t, err)

	// 已写入的分块被回滚，不残留部分数据
	assert.True(t, chunkRepo.deleted)
	assert.True(t, indexRepo.deleted)
	assert.Empty(t, chunkRepo.created)

	// 终态为 FAILED/100
	assert.Equal(t, "生成向量失败", docRepo.failedMsg)
	assert.Equal(t, model.DocumentStatusFailed, notifier.last().Status)
	assert.Equal(t, 100, notifier.last().Progress)
	assert.NotEmpty(t, notifier.last().Error)
}

func TestProcessorIndexFailureRollsBack(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}
	chunkRepo := &fakeChunkRepo{}
	indexRepo := &fakeChunkIndexRepo{indexErr: errors.New("es unavailable")}

	p := newTestProcessor(docRepo, chunkRepo, indexRepo,
		&fakeExtractor{text: "abcdefghijklmnop"},
		embedding.NewStubClient(8), &fakeNotifier{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.Error(t, err)
	assert.True(t, chunkRepo.deleted)
	assert.Equal(t, "索引分块向量失败", docRepo.failedMsg)
}

func TestProcessorExtractFailureFails(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc()}

	p := newTestProcessor(docRepo, &fakeChunkRepo{}, &fakeChunkIndexRepo{},
		&fakeExtractor{err: errors.New("corrupt pdf")},
		embedding.NewStubClient(8), &fakeNotifier{})

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})
	require.Error(t, err)
	assert.Equal(t, "提取文本失败", docRepo.failedMsg)
}

func TestProcessorDeletedDuringProcessingRollsBackSilently(t *testing.T) {
	docRepo := &fakeDocRepo{doc: pendingDoc(), deleteOnProgressCall: 2}
	chunkRepo := &fakeChunkRepo{}
	indexRepo := &fakeChunkIndexRepo{}
	notifier := &fakeNotifier{}

	p := newTestProcessor(docRepo, chunkRepo, indexRepo,
		&fakeExtractor{text: "abcdefghijklmnop"},
		embedding.NewStubClient(8), notifier)

	err := p.Process(context.Background(), tasks.DocumentProcessingTask{DocumentID: "doc-1", OwnerID: 7})

	// 处理途中删除不算失败
	assert.NoError(t, err)
	assert.True(t, chunkRepo.deleted)
	assert.True(t, indexRepo.deleted)
	assert.Empty(t, docRepo.failedMsg)
	assert.False(t, docRepo.doneCalled)
}
