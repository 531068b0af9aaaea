package document

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/credits"
)

type fakeRepo struct {
	docs map[uuid.UUID]*Document
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: map[uuid.UUID]*Document{}}
}

func (f *fakeRepo) Create(_ context.Context, doc *Document) error {
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, userID, id uuid.UUID) (*Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*Document, error) {
	var out []*Document
	for _, doc := range f.docs {
		if doc.UserID == userID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) Update(_ context.Context, doc *Document) error {
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, userID, id uuid.UUID) error {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return ErrDocumentNotFound
	}
	delete(f.docs, id)
	return nil
}

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeSummarizer struct {
	result   *SummaryResult
	err      error
	calls    int
	lastText string
}

func (f *fakeSummarizer) Summarize(_ context.Context, req SummaryRequest) (*SummaryResult, error) {
	f.calls++
	f.lastText = req.Text
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCredits struct {
	remaining    int64
	consumeCalls int
	lastDocID    *uuid.UUID
}

func (f *fakeCredits) Balance(context.Context, uuid.UUID) (*credits.Balance, error) {
	return &credits.Balance{Limit: 10, Used: 10 - f.remaining, Remaining: f.remaining}, nil
}

func (f *fakeCredits) Consume(_ context.Context, _ uuid.UUID, documentID *uuid.UUID, units int64) (*credits.Balance, error) {
	f.consumeCalls++
	f.lastDocID = documentID
	f.remaining -= units
	return &credits.Balance{Limit: 10, Used: 10 - f.remaining, Remaining: f.remaining}, nil
}

type fakeSubSource struct {
	sub *billing.Subscription
}

func (f *fakeSubSource) GetSubscription(context.Context, uuid.UUID) (*billing.Subscription, error) {
	if f.sub == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	return f.sub, nil
}

type fakeLimitSource struct {
	limit int64
}

func (f *fakeLimitSource) FeatureLimit(context.Context, uuid.UUID, string) (int64, error) {
	return f.limit, nil
}

type serviceDeps struct {
	repo       *fakeRepo
	store      *fakeStore
	summarizer *fakeSummarizer
	credits    *fakeCredits
	subs       *fakeSubSource
	limits     *fakeLimitSource
}

func newTestService(t *testing.T) (*Service, *serviceDeps) {
	t.Helper()
	deps := &serviceDeps{
		repo:       newFakeRepo(),
		store:      newFakeStore(),
		summarizer: &fakeSummarizer{result: &SummaryResult{Summary: "summary text"}},
		credits:    &fakeCredits{remaining: 5},
		subs: &fakeSubSource{sub: &billing.Subscription{
			ID:     uuid.New(),
			PlanID: uuid.New(),
			Status: billing.StatusActive,
		}},
		limits: &fakeLimitSource{limit: 25},
	}
	svc := NewService(deps.repo, deps.store, deps.summarizer, deps.credits, deps.subs, deps.limits, zap.NewNop())
	return svc, deps
}

func upload(t *testing.T, svc *Service, userID uuid.UUID, content string) *Document {
	t.Helper()
	doc, err := svc.Upload(context.Background(), userID, UploadInput{
		Title:       "NDA",
		FileName:    "nda.txt",
		ContentType: "text/plain",
		SizeBytes:   int64(len(content)),
		Body:        strings.NewReader(content),
	})
	require.NoError(t, err)
	return doc
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the body and metadata", func(t *testing.T) {
		svc, deps := newTestService(t)
		userID := uuid.New()

		doc := upload(t, svc, userID, "contract body")

		assert.Equal(t, StatusUploaded, doc.Status)
		assert.Equal(t, []byte("contract body"), deps.store.objects[doc.StorageKey])
		assert.Contains(t, doc.StorageKey, userID.String())
	})

	t.Run("rejects unsupported content types", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Upload(ctx, uuid.New(), UploadInput{
			FileName:    "malware.exe",
			ContentType: "application/octet-stream",
			SizeBytes:   10,
			Body:        strings.NewReader("x"),
		})

		assert.ErrorIs(t, err, ErrUnsupportedContentType)
	})

	t.Run("enforces the plan size limit", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.limits.limit = 1 // 1 MB

		_, err := svc.Upload(ctx, uuid.New(), UploadInput{
			FileName:    "big.txt",
			ContentType: "text/plain",
			SizeBytes:   2 << 20,
			Body:        strings.NewReader("x"),
		})

		assert.ErrorIs(t, err, ErrDocumentTooLarge)
	})

	t.Run("falls back to the default limit without a subscription", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.subs.sub = nil

		_, err := svc.Upload(ctx, uuid.New(), UploadInput{
			FileName:    "big.txt",
			ContentType: "text/plain",
			SizeBytes:   11 << 20,
			Body:        strings.NewReader("x"),
		})

		assert.ErrorIs(t, err, ErrDocumentTooLarge)
	})

	t.Run("empty title falls back to the file name", func(t *testing.T) {
		svc, _ := newTestService(t)

		doc, err := svc.Upload(ctx, uuid.New(), UploadInput{
			FileName:    "lease.txt",
			ContentType: "text/plain",
			SizeBytes:   5,
			Body:        strings.NewReader("lease"),
		})

		require.NoError(t, err)
		assert.Equal(t, "lease.txt", doc.Title)
	})
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()

	t.Run("produces a summary and spends one credit", func(t *testing.T) {
		svc, deps := newTestService(t)
		userID := uuid.New()
		doc := upload(t, svc, userID, "the parties agree")

		out, err := svc.Summarize(ctx, userID, doc.ID)

		require.NoError(t, err)
		assert.Equal(t, StatusSummarized, out.Status)
		assert.Equal(t, "summary text", out.Summary)
		assert.NotNil(t, out.SummarizedAt)
		assert.Equal(t, "the parties agree", deps.summarizer.lastText)
		assert.Equal(t, 1, deps.credits.consumeCalls)
		require.NotNil(t, deps.credits.lastDocID)
		assert.Equal(t, doc.ID, *deps.credits.lastDocID)
	})

	t.Run("exhausted credits never reach the summarizer", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.credits.remaining = 0
		userID := uuid.New()
		doc := upload(t, svc, userID, "body")

		_, err := svc.Summarize(ctx, userID, doc.ID)

		assert.ErrorIs(t, err, credits.ErrCreditsExhausted)
		assert.Zero(t, deps.summarizer.calls)
	})

	t.Run("summarizer failure marks the document failed without spending", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.summarizer.err = assert.AnError
		userID := uuid.New()
		doc := upload(t, svc, userID, "body")

		_, err := svc.Summarize(ctx, userID, doc.ID)

		require.Error(t, err)
		stored, getErr := svc.Get(ctx, userID, doc.ID)
		require.NoError(t, getErr)
		assert.Equal(t, StatusFailed, stored.Status)
		assert.Zero(t, deps.credits.consumeCalls)
	})

	t.Run("in-progress documents reject a second request", func(t *testing.T) {
		svc, deps := newTestService(t)
		userID := uuid.New()
		doc := upload(t, svc, userID, "body")

		stored := deps.repo.docs[doc.ID]
		stored.Status = StatusSummarizing

		_, err := svc.Summarize(ctx, userID, doc.ID)

		assert.ErrorIs(t, err, ErrSummaryInProgress)
	})

	t.Run("another user's document is not found", func(t *testing.T) {
		svc, _ := newTestService(t)
		doc := upload(t, svc, uuid.New(), "body")

		_, err := svc.Summarize(ctx, uuid.New(), doc.ID)

		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestDelete(t *testing.T) {
	svc, deps := newTestService(t)
	userID := uuid.New()
	doc := upload(t, svc, userID, "body")

	require.NoError(t, svc.Delete(context.Background(), userID, doc.ID))

	_, err := svc.Get(context.Background(), userID, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Empty(t, deps.store.objects)

	// Idempotent from the caller's view once gone.
	err = svc.Delete(context.Background(), userID, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSummarizeReSummarizeAllowed(t *testing.T) {
	svc, deps := newTestService(t)
	userID := uuid.New()
	doc := upload(t, svc, userID, "v1 body")

	_, err := svc.Summarize(context.Background(), userID, doc.ID)
	require.NoError(t, err)

	deps.summarizer.result = &SummaryResult{Summary: "updated summary"}
	out, err := svc.Summarize(context.Background(), userID, doc.ID)

	require.NoError(t, err)
	assert.Equal(t, "updated summary", out.Summary)
	assert.Equal(t, 2, deps.credits.consumeCalls)
	assert.WithinDuration(t, time.Now().UTC(), *out.SummarizedAt, time.Minute)
}
