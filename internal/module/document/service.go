package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/credits"
	"github.com/clausewise/server/internal/module/plan"
)

// defaultMaxSizeBytes applies when the plan carries no document size
// feature.
const defaultMaxSizeBytes = 10 << 20

// maxSummaryInputBytes caps how much of a document body is sent to the
// summarizer.
const maxSummaryInputBytes = 512 << 10

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// CreditSource meters summarization credits. Satisfied by
// *credits.Tracker.
type CreditSource interface {
	Balance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error)
	Consume(ctx context.Context, userID uuid.UUID, documentID *uuid.UUID, units int64) (*credits.Balance, error)
}

// SubscriptionSource yields the user's current subscription. Satisfied by
// *billing.Service.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
}

// LimitSource resolves plan feature limits. Satisfied by *plan.Service.
type LimitSource interface {
	FeatureLimit(ctx context.Context, planID uuid.UUID, featureKey string) (int64, error)
}

// Service implements the document workspace.
type Service struct {
	repo       Repository
	store      ObjectStore
	summarizer Summarizer
	credits    CreditSource
	subs       SubscriptionSource
	limits     LimitSource
	logger     *zap.Logger
}

// NewService creates a document service.
func NewService(
	repo Repository,
	store ObjectStore,
	summarizer Summarizer,
	creditSource CreditSource,
	subs SubscriptionSource,
	limits LimitSource,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		store:      store,
		summarizer: summarizer,
		credits:    creditSource,
		subs:       subs,
		limits:     limits,
		logger:     logger,
	}
}

// UploadInput carries one document upload.
type UploadInput struct {
	Title       string
	FileName    string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

// Upload validates the file against the user's plan and stores it.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*Document, error) {
	if !allowedContentTypes[in.ContentType] {
		return nil, ErrUnsupportedContentType
	}

	maxSize, err := s.maxSizeBytes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.SizeBytes > maxSize {
		return nil, ErrDocumentTooLarge
	}

	doc := &Document{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       in.Title,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		SizeBytes:   in.SizeBytes,
		Status:      StatusUploaded,
	}
	if doc.Title == "" {
		doc.Title = in.FileName
	}
	doc.StorageKey = fmt.Sprintf("documents/%s/%s/%s", userID, doc.ID, in.FileName)

	if err := s.store.Put(ctx, doc.StorageKey, in.ContentType, in.Body, in.SizeBytes); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		// Orphaned object; best effort cleanup.
		if delErr := s.store.Delete(ctx, doc.StorageKey); delErr != nil {
			s.logger.Warn("failed to clean up stored object", zap.Error(delErr), zap.String("key", doc.StorageKey))
		}
		return nil, err
	}
	return doc, nil
}

// Get returns one of the user's documents.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, userID, id)
}

// List returns the user's documents, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*Document, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Delete removes a document and its stored body.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return s.repo.Delete(ctx, userID, id)
}

// Summarize runs the summarizer over a document and spends one credit on
// success.
func (s *Service) Summarize(ctx context.Context, userID, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusSummarizing {
		return nil, ErrSummaryInProgress
	}

	// Check the balance up front so an exhausted user never triggers a
	// summarizer call; the credit itself is only spent on success.
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.Remaining < 1 {
		return nil, credits.ErrCreditsExhausted
	}

	doc.Status = StatusSummarizing
	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, err
	}

	result, err := s.summarize(ctx, doc)
	if err != nil {
		doc.Status = StatusFailed
		if updateErr := s.repo.Update(ctx, doc); updateErr != nil {
			s.logger.Error("failed to mark document failed", zap.Error(updateErr), zap.String("document_id", doc.ID.String()))
		}
		return nil, err
	}

	now := time.Now().UTC()
	doc.Summary = result.Summary
	doc.Status = StatusSummarized
	doc.SummarizedAt = &now
	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, err
	}

	if _, err := s.credits.Consume(ctx, userID, &doc.ID, 1); err != nil {
		// The summary is already delivered; log and move on.
		s.logger.Warn("failed to record credit consumption", zap.Error(err), zap.String("document_id", doc.ID.String()))
	}
	return doc, nil
}

func (s *Service) summarize(ctx context.Context, doc *Document) (*SummaryResult, error) {
	body, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	text, err := io.ReadAll(io.LimitReader(body, maxSummaryInputBytes))
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}

	return s.summarizer.Summarize(ctx, SummaryRequest{
		Title: doc.Title,
		Text:  string(text),
	})
}

func (s *Service) maxSizeBytes(ctx context.Context, userID uuid.UUID) (int64, error) {
	sub, err := s.subs.GetSubscription(ctx, userID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return defaultMaxSizeBytes, nil
	}
	if err != nil {
		return 0, err
	}
	if !sub.Status.Entitled() {
		return defaultMaxSizeBytes, nil
	}

	limitMB, err := s.limits.FeatureLimit(ctx, sub.PlanID, plan.FeatureMaxDocumentSizeMB)
	if err != nil {
		return 0, err
	}
	if limitMB <= 0 {
		return defaultMaxSizeBytes, nil
	}
	return limitMB << 20, nil
}
