package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

const collectionColumns = `id, device_id, status, requested_at, started_at, completed_at, COALESCE(error, '')`

// EnqueueCollection queues an on-demand poll for a device. When a queued or
// running request for the same device already exists it is returned instead
// of creating a duplicate; the second return reports whether a new request
// was created.
func (s *Store) EnqueueCollection(ctx context.Context, deviceID string) (types.CollectionRequest, bool, error) {
	req := types.CollectionRequest{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		Status:      types.CollectionQueued,
		RequestedAt: types.NewISOTime(time.Now().UTC()),
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO collection_requests (id, device_id, status, requested_at)
SELECT $1, $2, 'queued', $3
WHERE NOT EXISTS (
    SELECT 1 FROM collection_requests
    WHERE device_id = $2 AND status IN ('queued', 'running')
)`, req.ID, deviceID, req.RequestedAt.Time())
	if err != nil {
		return types.CollectionRequest{}, false, fmt.Errorf("enqueue collection: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return req, true, nil
	}

	row := s.pool.QueryRow(ctx, `
SELECT `+collectionColumns+`
FROM collection_requests
WHERE device_id = $1 AND status IN ('queued', 'running')
ORDER BY requested_at ASC
LIMIT 1`, deviceID)
	existing, err := scanCollectionRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The pending request finished between the insert and this read.
		return s.EnqueueCollection(ctx, deviceID)
	}
	if err != nil {
		return types.CollectionRequest{}, false, fmt.Errorf("load pending collection: %w", err)
	}
	return existing, false, nil
}

// NextQueuedCollection returns the oldest queued request, or nil when the
// queue is empty.
func (s *Store) NextQueuedCollection(ctx context.Context) (*types.CollectionRequest, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+collectionColumns+`
FROM collection_requests
WHERE status = 'queued'
ORDER BY requested_at ASC
LIMIT 1`)
	req, err := scanCollectionRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued collection: %w", err)
	}
	return &req, nil
}

// CollectionRequest returns one request by id.
func (s *Store) CollectionRequest(ctx context.Context, id string) (types.CollectionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+collectionColumns+` FROM collection_requests WHERE id = $1`, id)
	req, err := scanCollectionRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.CollectionRequest{}, ErrNotFound
	}
	if err != nil {
		return types.CollectionRequest{}, fmt.Errorf("load collection request: %w", err)
	}
	return req, nil
}

// MarkCollectionRunning transitions a queued request to running.
func (s *Store) MarkCollectionRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests SET status = 'running', started_at = $2
WHERE id = $1 AND status = 'queued'`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark collection running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCollectionCompleted transitions a request to completed.
func (s *Store) MarkCollectionCompleted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests SET status = 'completed', completed_at = $2
WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark collection completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCollectionFailed transitions a request to failed with an error message.
func (s *Store) MarkCollectionFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests SET status = 'failed', completed_at = $2, error = $3
WHERE id = $1`, id, time.Now().UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("mark collection failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneCollectionRequests deletes finished requests older than the cutoff
// and returns how many were removed.
func (s *Store) PruneCollectionRequests(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM collection_requests
WHERE status IN ('completed', 'failed') AND requested_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune collection requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCollectionRequest(row pgx.Row) (types.CollectionRequest, error) {
	var (
		req         types.CollectionRequest
		status      string
		requestedAt time.Time
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := row.Scan(&req.ID, &req.DeviceID, &status, &requestedAt, &startedAt, &completedAt, &req.Error)
	if err != nil {
		return types.CollectionRequest{}, err
	}
	req.Status = types.CollectionStatus(status)
	req.RequestedAt = types.NewISOTime(requestedAt)
	if startedAt != nil {
		t := types.NewISOTime(*startedAt)
		req.StartedAt = &t
	}
	if completedAt != nil {
		t := types.NewISOTime(*completedAt)
		req.CompletedAt = &t
	}
	return req, nil
}

// InsertSchedulerStats writes one heartbeat row.
func (s *Store) InsertSchedulerStats(ctx context.Context, st types.SchedulerStats) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scheduler_stats_history (time, collections_completed, devices_polled, poll_errors, refresh_interval_seconds)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (time) DO NOTHING`,
		st.Time.Time(), st.CollectionsCompleted, st.DevicesPolled, st.PollErrors, st.RefreshIntervalSeconds)
	if err != nil {
		return fmt.Errorf("insert scheduler stats: %w", err)
	}
	return nil
}

// LatestSchedulerStats returns the most recent heartbeat, or nil when none
// has been written yet.
func (s *Store) LatestSchedulerStats(ctx context.Context) (*types.SchedulerStats, error) {
	var (
		st types.SchedulerStats
		ts time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT time, COALESCE(collections_completed, 0), COALESCE(devices_polled, 0),
       COALESCE(poll_errors, 0), COALESCE(refresh_interval_seconds, 0)
FROM scheduler_stats_history
ORDER BY time DESC
LIMIT 1`).Scan(&ts, &st.CollectionsCompleted, &st.DevicesPolled, &st.PollErrors, &st.RefreshIntervalSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scheduler stats: %w", err)
	}
	st.Time = types.NewISOTime(ts)
	return &st, nil
}

// PruneSchedulerStats removes heartbeats older than the cutoff.
func (s *Store) PruneSchedulerStats(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduler_stats_history WHERE time < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune scheduler stats: %w", err)
	}
	return tag.RowsAffected(), nil
}
