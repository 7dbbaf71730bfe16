// Package syncer drains the pending-action queue against the remote
// API when connectivity returns.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"taskline/internal/api"
	"taskline/internal/cache"
	"taskline/internal/connectivity"
	"taskline/internal/domain"
)

var (
	// ErrOffline is returned by ForceSync when the client has no
	// connectivity; the queue is left untouched.
	ErrOffline = errors.New("cannot sync while offline")

	// ErrSyncInProgress is returned when a drain is already running.
	// Only one drain owns the queue at a time.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Syncer replays queued mutations in strict insertion order, halting on
// the first failure so causally dependent actions are never reordered.
type Syncer struct {
	API     *api.Client
	Store   *cache.Store
	Monitor *connectivity.Monitor
	Now     func() time.Time

	logger   *log.Logger
	draining atomic.Bool
	changes  <-chan bool

	mu   sync.Mutex
	subs []chan domain.SyncStatus
}

// New creates a Syncer. If logger is nil, a default logger writing to
// stderr is used.
func New(client *api.Client, store *cache.Store, monitor *connectivity.Monitor, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		API:     client,
		Store:   store,
		Monitor: monitor,
		Now:     time.Now,
		logger:  logger,
		// Subscribed at construction so transitions between New and
		// Start are buffered rather than lost.
		changes: monitor.Changes(),
	}
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Status returns the aggregate sync view: connectivity, live queue
// length, and last successful drain time.
func (s *Syncer) Status(ctx context.Context) (domain.SyncStatus, error) {
	count, err := s.Store.PendingCount(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	last, err := s.Store.LastSyncTime(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	return domain.SyncStatus{
		IsOnline:         s.Monitor.Online(),
		PendingSyncCount: count,
		LastSyncTime:     last,
	}, nil
}

// StatusChanges returns a channel receiving the sync status after each
// connectivity transition and each drain.
func (s *Syncer) StatusChanges() <-chan domain.SyncStatus {
	ch := make(chan domain.SyncStatus, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Syncer) publish(ctx context.Context) {
	status, err := s.Status(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	subs := make([]chan domain.SyncStatus, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- status:
		default:
		}
	}
}

// Start watches connectivity transitions and drains automatically on
// reconnect while actions are pending. Blocks until ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online := <-s.changes:
			if online {
				count, err := s.Store.PendingCount(ctx)
				if err != nil {
					s.logger.Printf("WARNING: pending count: %v", err)
					continue
				}
				// Reconnect with an empty queue triggers no
				// remote calls and leaves lastSyncTime be.
				if count > 0 {
					if err := s.Drain(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
						s.logger.Printf("WARNING: drain: %v", err)
					}
				}
			}
			s.publish(ctx)
		}
	}
}

// ForceSync drains on demand. Fails immediately, without touching the
// queue, if connectivity is currently offline.
func (s *Syncer) ForceSync(ctx context.Context) error {
	if !s.Monitor.Online() {
		return ErrOffline
	}
	return s.Drain(ctx)
}

// Drain replays the queue snapshot strictly in order. Each action is
// removed on success; the first failure stops processing and leaves the
// failed action and everything after it queued for the next attempt.
// Completing the loop, by exhaustion or early stop, stamps
// lastSyncTime.
func (s *Syncer) Drain(ctx context.Context) error {
	if !s.draining.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer s.draining.Store(false)

	actions, err := s.Store.PendingActions(ctx)
	if err != nil {
		return err
	}
	var replayErr error
	for i := 0; i < len(actions); i++ {
		if err := s.replay(ctx, actions, i); err != nil {
			s.logger.Printf("replay halted at %s %s: %v", actions[i].Type, actions[i].ID, err)
			replayErr = err
			break
		}
		if err := s.Store.RemovePendingAction(ctx, actions[i].ID); err != nil {
			return err
		}
		s.logger.Printf("replayed %s %s", actions[i].Type, actions[i].ID)
	}
	if err := s.Store.SetLastSyncTime(ctx, s.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	s.publish(ctx)
	return replayErr
}

// replay dispatches the action at index i of the snapshot. The whole
// snapshot is passed so a confirmed create can rewrite placeholder ids
// in the actions still ahead.
func (s *Syncer) replay(ctx context.Context, actions []domain.PendingAction, i int) error {
	a := actions[i]
	switch a.Type {
	case domain.ActionCreate:
		if a.Task == nil {
			return fmt.Errorf("create action %s has no task", a.ID)
		}
		placeholder := a.Task.ID
		created, err := s.API.CreateTask(ctx, *a.Task)
		if err != nil {
			return err
		}
		if err := s.Store.ReplaceTask(ctx, placeholder, created); err != nil {
			return err
		}
		return s.reconcileID(ctx, actions[i+1:], placeholder, created.ID)
	case domain.ActionUpdate:
		if a.Task == nil {
			return fmt.Errorf("update action %s has no task", a.ID)
		}
		updated, err := s.API.UpdateTask(ctx, *a.Task)
		if err != nil {
			return err
		}
		return s.Store.UpdateTask(ctx, updated)
	case domain.ActionDelete:
		return s.API.DeleteTask(ctx, a.TaskID)
	case domain.ActionReorder:
		// Replayed as one priority patch per task. A failure mid-loop
		// leaves remote priorities split between old and new values;
		// the action stays queued and the next drain patches them all
		// again.
		for idx, t := range a.Tasks {
			if _, err := s.API.PatchPriority(ctx, t.ID, idx); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// reconcileID rewrites references to a placeholder id, both in the
// in-memory snapshot still being drained and in the persisted queue, so
// actions enqueued after an offline create replay against the
// server-assigned id.
func (s *Syncer) reconcileID(ctx context.Context, rest []domain.PendingAction, placeholder, serverID int64) error {
	if placeholder >= 0 || placeholder == serverID {
		return nil
	}
	rewrite := func(a *domain.PendingAction) {
		if a.Task != nil && a.Task.ID == placeholder {
			a.Task.ID = serverID
		}
		if a.TaskID == placeholder {
			a.TaskID = serverID
		}
		for j := range a.Tasks {
			if a.Tasks[j].ID == placeholder {
				a.Tasks[j].ID = serverID
			}
		}
	}
	for j := range rest {
		rewrite(&rest[j])
	}
	queued, err := s.Store.PendingActions(ctx)
	if err != nil {
		return err
	}
	for j := range queued {
		rewrite(&queued[j])
	}
	return s.Store.SavePendingActions(ctx, queued)
}
