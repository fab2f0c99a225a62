package store

import (
	"context"
	"errors"
	"time"
)

// ErrPublishInProgress is returned when another request holds a pending
// idempotency row for the same (user, key). The caller should retry later;
// there is no saved response to replay yet.
var ErrPublishInProgress = errors.New("a publish with this idempotency key is already in progress")

// HeaderPair preserves header order and repeated names, which a map cannot.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SavedResponse is the wire response recorded against an idempotency key and
// replayed byte-for-byte on duplicate requests.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	HTMLContent string    `json:"htmlContent"`
	TextContent string    `json:"textContent"`
	PublishedAt time.Time `json:"publishedAt"`
}

// IssueSummary backs the admin issue list.
type IssueSummary struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	PublishedAt       time.Time `json:"publishedAt"`
	PendingDeliveries int64     `json:"pendingDeliveries"`
}

// DeliveryTask is one (issue, recipient) pair claimed from the queue.
// NRetries counts prior failed attempts.
type DeliveryTask struct {
	IssueID         string
	SubscriberEmail string
	NRetries        int

	Title       string
	HTMLContent string
	TextContent string
}

// PublishTx is the transaction handle owned by the request that won the
// idempotency race. The issue writes and the response save commit together;
// Rollback is a no-op after a successful SaveResponse.
type PublishTx interface {
	CreateIssueAndEnqueue(ctx context.Context, title, htmlContent, textContent string) (issueID string, tasks int64, err error)
	SaveResponse(ctx context.Context, resp SavedResponse) error
	Rollback(ctx context.Context)
}

// ClaimedTask is a delivery task row-locked for one worker. Exactly one of
// Complete, Discard, RetryLater or Release ends the claim.
type ClaimedTask interface {
	Task() DeliveryTask
	Complete(ctx context.Context) error
	Discard(ctx context.Context) error
	RetryLater(ctx context.Context, executeAfter time.Time) error
	Release(ctx context.Context)
}
