package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"newsletter/internal/domain"
	"newsletter/internal/observability"
	"newsletter/internal/store"
)

type Store interface {
	StartPublish(ctx context.Context, userID, key string) (store.PublishTx, *store.SavedResponse, error)
	ListIssues(ctx context.Context, limit int) ([]store.IssueSummary, error)
	GetIssue(ctx context.Context, issueID string) (store.Issue, bool, error)
}

// PublishService couples the idempotency record and the issue/fan-out writes
// into one transaction. A request observes exactly one of: the canonical
// first-success response, a byte-identical replay of it, or an error that
// left no state behind.
type PublishService struct {
	Store Store
}

func (s *PublishService) Publish(ctx context.Context, userID string, req domain.PublishRequest) (store.SavedResponse, error) {
	if err := req.Validate(); err != nil {
		observability.PublishRequests.WithLabelValues("invalid").Inc()
		return store.SavedResponse{}, err
	}

	tx, saved, err := s.Store.StartPublish(ctx, userID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrPublishInProgress) {
			observability.PublishRequests.WithLabelValues("in_progress").Inc()
		} else {
			observability.PublishRequests.WithLabelValues("error").Inc()
		}
		return store.SavedResponse{}, err
	}
	if saved != nil {
		observability.PublishRequests.WithLabelValues("replayed").Inc()
		slog.Info("publish replayed",
			"user_id", userID,
			"idempotency_key", req.IdempotencyKey,
		)
		return *saved, nil
	}

	// Rollback after a successful SaveResponse is a no-op; before it, any
	// failure unwinds the pending row and the issue writes together.
	defer tx.Rollback(ctx)

	issueID, tasks, err := tx.CreateIssueAndEnqueue(ctx, req.Title, req.HTMLContent, req.TextContent)
	if err != nil {
		observability.PublishRequests.WithLabelValues("error").Inc()
		return store.SavedResponse{}, err
	}

	resp := seeOtherResponse("/admin/newsletters")
	if err := tx.SaveResponse(ctx, resp); err != nil {
		observability.PublishRequests.WithLabelValues("error").Inc()
		return store.SavedResponse{}, err
	}

	observability.PublishRequests.WithLabelValues("created").Inc()
	observability.FanoutSize.Observe(float64(tasks))
	slog.Info("newsletter issue published",
		"issue_id", issueID,
		"user_id", userID,
		"idempotency_key", req.IdempotencyKey,
		"delivery_tasks", tasks,
	)
	return resp, nil
}

func (s *PublishService) ListIssues(ctx context.Context, limit int) ([]store.IssueSummary, error) {
	return s.Store.ListIssues(ctx, limit)
}

func (s *PublishService) GetIssue(ctx context.Context, issueID string) (store.Issue, bool, error) {
	return s.Store.GetIssue(ctx, issueID)
}

// seeOtherResponse is the canonical publish response. It is stored as an
// explicit {status, ordered headers, body} triple so a replay reconstructs
// the wire response bit for bit.
func seeOtherResponse(location string) store.SavedResponse {
	return store.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []store.HeaderPair{
			{Name: "Location", Value: location},
		},
		Body: nil,
	}
}
