package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskline/internal/domain"
)

// Record keys. The cache holds exactly three named records, each
// JSON-serialized: the last-known task list, the pending-action queue,
// and the last-sync timestamp.
const (
	keyTasks    = "tasks"
	keyPending  = "pending_actions"
	keyLastSync = "last_sync"
)

// Store is the durable local cache. It is an explicitly-owned object:
// the gateway and the syncer both receive the same Store at
// construction rather than reaching for package-level state.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) readRecord(ctx context.Context, key string, out any) (bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM records WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) writeRecord(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx, `INSERT INTO records(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, string(data), now)
	return err
}

// Tasks returns the cached task list, empty if never populated.
func (s *Store) Tasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if _, err := s.readRecord(ctx, keyTasks, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SaveTasks replaces the entire cached task list. No partial merge.
func (s *Store) SaveTasks(ctx context.Context, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return s.writeRecord(ctx, keyTasks, tasks)
}

// AddTask appends one task, assigning priority = current list length
// when the task does not already carry one.
func (s *Store) AddTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Priority == nil {
		p := len(tasks)
		t.Priority = &p
	}
	tasks = append(tasks, t)
	if err := s.SaveTasks(ctx, tasks); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask replaces the task matching id. No-op if absent.
func (s *Store) UpdateTask(ctx context.Context, t domain.Task) error {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			return s.SaveTasks(ctx, tasks)
		}
	}
	return nil
}

// ReplaceTask swaps the task with oldID for t, used when the remote API
// confirms a locally created task under its server-assigned id.
func (s *Store) ReplaceTask(ctx context.Context, oldID int64, t domain.Task) error {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == oldID {
			tasks[i] = t
			return s.SaveTasks(ctx, tasks)
		}
	}
	return nil
}

// DeleteTask removes the task matching id. No-op if absent.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	if len(out) == len(tasks) {
		return nil
	}
	return s.SaveTasks(ctx, out)
}

// ReorderTasks rewrites priority for every task to match its index in
// the supplied sequence, then persists the sequence.
func (s *Store) ReorderTasks(ctx context.Context, tasks []domain.Task) ([]domain.Task, error) {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		p := i
		t.Priority = &p
		out[i] = t
	}
	if err := s.SaveTasks(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddPendingAction assigns an id and timestamp to the action and
// appends it to the queue.
func (s *Store) AddPendingAction(ctx context.Context, a domain.PendingAction) (domain.PendingAction, error) {
	actions, err := s.PendingActions(ctx)
	if err != nil {
		return domain.PendingAction{}, err
	}
	a.ID = uuid.NewString()
	a.Timestamp = s.now().UTC().Format(time.RFC3339)
	actions = append(actions, a)
	if err := s.writeRecord(ctx, keyPending, actions); err != nil {
		return domain.PendingAction{}, err
	}
	return a, nil
}

// PendingActions returns the queue in insertion order.
func (s *Store) PendingActions(ctx context.Context) ([]domain.PendingAction, error) {
	var actions []domain.PendingAction
	if _, err := s.readRecord(ctx, keyPending, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// SavePendingActions replaces the whole queue, preserving the supplied
// order. Used by the syncer to rewrite placeholder ids after a create
// has been confirmed.
func (s *Store) SavePendingActions(ctx context.Context, actions []domain.PendingAction) error {
	if actions == nil {
		actions = []domain.PendingAction{}
	}
	return s.writeRecord(ctx, keyPending, actions)
}

// RemovePendingAction removes one action by id.
func (s *Store) RemovePendingAction(ctx context.Context, id string) error {
	actions, err := s.PendingActions(ctx)
	if err != nil {
		return err
	}
	out := actions[:0]
	for _, a := range actions {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return s.writeRecord(ctx, keyPending, out)
}

func (s *Store) ClearPendingActions(ctx context.Context) error {
	return s.writeRecord(ctx, keyPending, []domain.PendingAction{})
}

// PendingCount returns the live length of the pending-action queue.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	actions, err := s.PendingActions(ctx)
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

// LastSyncTime returns the timestamp of the last completed drain, empty
// if never synced.
func (s *Store) LastSyncTime(ctx context.Context) (string, error) {
	var ts string
	if _, err := s.readRecord(ctx, keyLastSync, &ts); err != nil {
		return "", err
	}
	return ts, nil
}

func (s *Store) SetLastSyncTime(ctx context.Context, ts string) error {
	return s.writeRecord(ctx, keyLastSync, ts)
}
