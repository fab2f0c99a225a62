package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"newsletter/internal/store"
)

// ClaimTask picks one eligible delivery task and row-locks it for the caller.
// SKIP LOCKED keeps concurrent workers off each other's rows, so a task is
// processed by at most one worker at a time. The returned claim holds the
// open transaction: the worker's outcome (Complete, RetryLater, Discard)
// commits it, and a crash before commit releases the lock with the row
// unchanged.
func (s *Store) ClaimTask(ctx context.Context) (store.ClaimedTask, bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, false, err
	}

	var task store.DeliveryTask
	err = tx.QueryRow(ctx, `
		SELECT q.newsletter_issue_id, q.subscriber_email, q.n_retries,
		       i.title, i.html_content, i.text_content
		FROM issue_delivery_queue q
		JOIN newsletter_issues i ON i.id = q.newsletter_issue_id
		WHERE q.execute_after <= now()
		ORDER BY q.execute_after
		FOR UPDATE OF q SKIP LOCKED
		LIMIT 1
	`).Scan(&task.IssueID, &task.SubscriberEmail, &task.NRetries,
		&task.Title, &task.HTMLContent, &task.TextContent)
	if err != nil {
		_ = tx.Rollback(ctx)
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &claimedTask{tx: tx, task: task}, true, nil
}

type claimedTask struct {
	tx   pgx.Tx
	task store.DeliveryTask
}

func (c *claimedTask) Task() store.DeliveryTask { return c.task }

// Complete removes the task after a successful send.
func (c *claimedTask) Complete(ctx context.Context) error {
	return c.remove(ctx)
}

// Discard removes the task on a terminal failure (invalid stored address or
// exhausted retry budget).
func (c *claimedTask) Discard(ctx context.Context) error {
	return c.remove(ctx)
}

func (c *claimedTask) remove(ctx context.Context) error {
	_, err := c.tx.Exec(ctx, `
		DELETE FROM issue_delivery_queue
		WHERE newsletter_issue_id=$1 AND subscriber_email=$2
	`, c.task.IssueID, c.task.SubscriberEmail)
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return err
	}
	return c.tx.Commit(ctx)
}

// RetryLater records a transient failure: bump the retry counter and hide the
// row until executeAfter.
func (c *claimedTask) RetryLater(ctx context.Context, executeAfter time.Time) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE issue_delivery_queue
		SET n_retries = n_retries + 1, execute_after = $3
		WHERE newsletter_issue_id=$1 AND subscriber_email=$2
	`, c.task.IssueID, c.task.SubscriberEmail, executeAfter)
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return err
	}
	return c.tx.Commit(ctx)
}

// Release rolls the claim back, leaving the task untouched and immediately
// claimable by another worker.
func (c *claimedTask) Release(ctx context.Context) {
	_ = c.tx.Rollback(ctx)
}
