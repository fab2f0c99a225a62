package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"newsletter/internal/store"
)

// StartPublish is the exclusion point of the publish pipeline. It opens a
// transaction and inserts a pending idempotency row; the unique constraint on
// (user_id, idempotency_key) serializes concurrent first attempts so exactly
// one wins. Outcomes, exactly one non-nil:
//
//   - (PublishTx, nil, nil): this caller won. It owns the open transaction,
//     must do the issue writes in it and finish with SaveResponse or Rollback.
//   - (nil, *SavedResponse, nil): a completed row exists; replay it verbatim.
//   - (nil, nil, store.ErrPublishInProgress): a pending row exists, another
//     request is mid-flight and has not saved a response yet.
func (s *Store) StartPublish(ctx context.Context, userID, key string) (store.PublishTx, *store.SavedResponse, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}

	if ct.RowsAffected() == 0 {
		// A row already exists. The insert above waits out any uncommitted
		// writer, so at this point the row is either completed or an
		// abandoned/in-flight pending.
		_ = tx.Rollback(ctx)

		saved, completed, err := s.getSavedResponse(ctx, userID, key)
		if err != nil {
			return nil, nil, err
		}
		if !completed {
			return nil, nil, store.ErrPublishInProgress
		}
		return nil, &saved, nil
	}

	return &publishTx{tx: tx, userID: userID, key: key}, nil, nil
}

func (s *Store) getSavedResponse(ctx context.Context, userID, key string) (store.SavedResponse, bool, error) {
	var statusCode *int
	var headersJSON, body []byte
	err := s.DB.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id=$1 AND idempotency_key=$2
	`, userID, key).Scan(&statusCode, &headersJSON, &body)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Row vanished between insert conflict and this read; the other
			// writer rolled back. Treat as still in progress and let the
			// client retry.
			return store.SavedResponse{}, false, nil
		}
		return store.SavedResponse{}, false, err
	}
	if statusCode == nil {
		return store.SavedResponse{}, false, nil
	}

	var headers []store.HeaderPair
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &headers); err != nil {
			return store.SavedResponse{}, false, err
		}
	}
	return store.SavedResponse{StatusCode: *statusCode, Headers: headers, Body: body}, true, nil
}

// publishTx couples the pending idempotency row, the issue writes and the
// response save into one atomic unit.
type publishTx struct {
	tx     pgx.Tx
	userID string
	key    string
}

func (p *publishTx) CreateIssueAndEnqueue(ctx context.Context, title, htmlContent, textContent string) (string, int64, error) {
	return createIssueAndEnqueue(ctx, p.tx, title, htmlContent, textContent, time.Now().UTC())
}

// SaveResponse fills the pending row with the final response and commits.
// After this returns nil the publish is durable and replayable.
func (p *publishTx) SaveResponse(ctx context.Context, resp store.SavedResponse) error {
	headersJSON, err := json.Marshal(resp.Headers)
	if err != nil {
		return err
	}

	ct, err := p.tx.Exec(ctx, `
		UPDATE idempotency
		SET response_status_code=$3, response_headers=$4, response_body=$5
		WHERE user_id=$1 AND idempotency_key=$2
	`, p.userID, p.key, resp.StatusCode, headersJSON, resp.Body)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("idempotency row missing on save")
	}

	return p.tx.Commit(ctx)
}

// Rollback is safe to defer; it is a no-op once SaveResponse has committed.
func (p *publishTx) Rollback(ctx context.Context) {
	_ = p.tx.Rollback(ctx)
}
