package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"leakdetector/internal/biz"
	"leakdetector/internal/pkg/history"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
)

// NewHistoryRepo returns the snapshot store of the configured driver.
func NewHistoryRepo(data *Data, logger log.Logger) biz.HistoryRepo {
	helper := log.NewHelper(log.With(logger, "module", "data/history"))
	switch data.Driver {
	case DriverPostgres:
		return &pgHistoryRepo{data: data, log: helper}
	case DriverSQLite:
		return &sqliteHistoryRepo{data: data, log: helper}
	default:
		return newMemoryHistoryRepo()
	}
}

func encodeSnapshot(s *history.Snapshot) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", s.ID, err)
	}
	return payload, nil
}

func decodeSnapshot(payload []byte) (*history.Snapshot, error) {
	var s history.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

type pgHistoryRepo struct {
	data *Data
	log  *log.Helper
}

func (r *pgHistoryRepo) Append(ctx context.Context, s *history.Snapshot) error {
	payload, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	_, err = r.data.Pool.Exec(ctx,
		`INSERT INTO analysis_snapshots (id, content_hash, created_at, dangerous, total, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.ContentHash, s.CreatedAt, s.Summary.Dangerous, s.Summary.Total, payload)
	return err
}

func (r *pgHistoryRepo) Latest(ctx context.Context, contentHash string) (*history.Snapshot, error) {
	var payload []byte
	err := r.data.Pool.QueryRow(ctx,
		`SELECT payload FROM analysis_snapshots
		 WHERE content_hash = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, contentHash).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return decodeSnapshot(payload)
}

func (r *pgHistoryRepo) List(ctx context.Context, contentHash string, limit int) ([]*history.Snapshot, error) {
	rows, err := r.data.Pool.Query(ctx,
		`SELECT payload FROM analysis_snapshots
		 WHERE content_hash = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, contentHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*history.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		s, err := decodeSnapshot(payload)
		if err != nil {
			r.log.WithContext(ctx).Warnf("skipping unreadable snapshot of %s: %v", contentHash, err)
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type sqliteHistoryRepo struct {
	data *Data
	log  *log.Helper
}

func (r *sqliteHistoryRepo) Append(ctx context.Context, s *history.Snapshot) error {
	payload, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	_, err = r.data.DB.ExecContext(ctx,
		`INSERT INTO analysis_snapshots (id, content_hash, created_at, dangerous, total, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.ContentHash, s.CreatedAt.UnixNano(), s.Summary.Dangerous, s.Summary.Total, string(payload))
	return err
}

func (r *sqliteHistoryRepo) Latest(ctx context.Context, contentHash string) (*history.Snapshot, error) {
	var payload string
	err := r.data.DB.QueryRowContext(ctx,
		`SELECT payload FROM analysis_snapshots
		 WHERE content_hash = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, contentHash).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSnapshot([]byte(payload))
}

func (r *sqliteHistoryRepo) List(ctx context.Context, contentHash string, limit int) ([]*history.Snapshot, error) {
	rows, err := r.data.DB.QueryContext(ctx,
		`SELECT payload FROM analysis_snapshots
		 WHERE content_hash = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, contentHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*history.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		s, err := decodeSnapshot([]byte(payload))
		if err != nil {
			r.log.WithContext(ctx).Warnf("skipping unreadable snapshot of %s: %v", contentHash, err)
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// memoryHistoryRepo keeps snapshots per content hash, oldest first.
type memoryHistoryRepo struct {
	mu        sync.RWMutex
	snapshots map[string][]*history.Snapshot
}

func newMemoryHistoryRepo() *memoryHistoryRepo {
	return &memoryHistoryRepo{snapshots: make(map[string][]*history.Snapshot)}
}

func (r *memoryHistoryRepo) Append(ctx context.Context, s *history.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.snapshots[s.ContentHash]
	i, _ := slices.BinarySearchFunc(list, s, compareSnapshots)
	r.snapshots[s.ContentHash] = slices.Insert(list, i, s)
	return nil
}

func (r *memoryHistoryRepo) Latest(ctx context.Context, contentHash string) (*history.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.snapshots[contentHash]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (r *memoryHistoryRepo) List(ctx context.Context, contentHash string, limit int) ([]*history.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.snapshots[contentHash]
	out := make([]*history.Snapshot, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// compareSnapshots orders by creation time, then by the time-ordered ID.
func compareSnapshots(a, b *history.Snapshot) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
