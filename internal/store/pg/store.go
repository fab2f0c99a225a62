package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// createIssueAndEnqueue inserts the issue row and fans out one delivery task
// per currently-confirmed subscriber, all inside the caller's transaction.
// The fan-out is a single set-based insert so there is no read-then-write
// window against concurrently confirming subscribers; the set of tasks for an
// issue is fixed here and never grows afterwards.
func createIssueAndEnqueue(ctx context.Context, tx pgx.Tx, title, htmlContent, textContent string, now time.Time) (string, int64, error) {
	issueID := uuid.NewString()

	_, err := tx.Exec(ctx, `
		INSERT INTO newsletter_issues (id, title, html_content, text_content, published_at)
		VALUES ($1,$2,$3,$4,$5)
	`, issueID, title, htmlContent, textContent, now)
	if err != nil {
		return "", 0, err
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
		SELECT $1, email FROM subscriptions WHERE status = 'confirmed'
	`, issueID)
	if err != nil {
		return "", 0, err
	}

	return issueID, ct.RowsAffected(), nil
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (store.Issue, bool, error) {
	if _, err := uuid.Parse(issueID); err != nil {
		return store.Issue{}, false, nil
	}
	var out store.Issue
	row := s.DB.QueryRow(ctx, `
		SELECT id, title, html_content, text_content, published_at
		FROM newsletter_issues WHERE id=$1
	`, issueID)
	err := row.Scan(&out.ID, &out.Title, &out.HTMLContent, &out.TextContent, &out.PublishedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.Issue{}, false, nil
		}
		return store.Issue{}, false, err
	}
	return out, true, nil
}

func (s *Store) ListIssues(ctx context.Context, limit int) ([]store.IssueSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(ctx, `
		SELECT i.id, i.title, i.published_at, COUNT(q.newsletter_issue_id)
		FROM newsletter_issues i
		LEFT JOIN issue_delivery_queue q ON q.newsletter_issue_id = i.id
		GROUP BY i.id, i.title, i.published_at
		ORDER BY i.published_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.IssueSummary, 0, limit)
	for rows.Next() {
		var is store.IssueSummary
		if err := rows.Scan(&is.ID, &is.Title, &is.PublishedAt, &is.PendingDeliveries); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// InsertConfirmedSubscriber is the seam to the out-of-scope signup flow:
// integration tests and seed tooling use it to stand in for a subscriber who
// completed confirmation.
func (s *Store) InsertConfirmedSubscriber(ctx context.Context, email, name string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1,$2,$3,$4,'confirmed')
		ON CONFLICT (email) DO UPDATE SET status='confirmed'
	`, uuid.NewString(), email, name, now)
	return err
}

func (s *Store) CountDeliveryTasks(ctx context.Context, issueID string) (int64, error) {
	var n int64
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM issue_delivery_queue WHERE newsletter_issue_id=$1
	`, issueID).Scan(&n)
	return n, err
}
