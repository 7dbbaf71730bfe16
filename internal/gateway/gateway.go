// Package gateway is the single entry point for task queries and
// mutations. Every operation branches on current connectivity: online
// calls go straight to the remote API, offline calls are served from
// the local cache and queued for later replay.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskline/internal/api"
	"taskline/internal/cache"
	"taskline/internal/connectivity"
	"taskline/internal/domain"
)

var (
	// ErrNotFound is returned when an offline mutation targets a task
	// absent from the local cache.
	ErrNotFound = errors.New("task not found in local cache")

	// ErrInvalidTitle is returned for titles shorter than the minimum.
	ErrInvalidTitle = fmt.Errorf("title must be at least %d characters", domain.MinTitleLen)

	// ErrInvalidStatus is returned for statuses outside the known set.
	ErrInvalidStatus = errors.New("invalid status")
)

type Gateway struct {
	API     *api.Client
	Store   *cache.Store
	Monitor *connectivity.Monitor
	Now     func() time.Time
}

// New wires the gateway to its collaborators. The store is shared with
// the syncer; both receive it at construction.
func New(client *api.Client, store *cache.Store, monitor *connectivity.Monitor) *Gateway {
	return &Gateway{
		API:     client,
		Store:   store,
		Monitor: monitor,
		Now:     time.Now,
	}
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Filter selects and orders tasks for listing. The same rules apply on
// both paths: the offline path filters and sorts the cached list.
type Filter struct {
	Status  string
	SortBy  string
	Order   string
	Page    int
	PerPage int
}

// Tasks lists tasks. Online queries the remote API and, when the full
// unfiltered list is returned, refreshes the cache with it; offline
// serves from the cache.
func (g *Gateway) Tasks(ctx context.Context, f Filter) ([]domain.Task, error) {
	if g.Monitor.Online() {
		tasks, err := g.API.ListTasks(ctx, api.ListOptions{
			Status:  f.Status,
			SortBy:  f.SortBy,
			Order:   f.Order,
			Page:    f.Page,
			PerPage: f.PerPage,
		})
		if err != nil {
			return nil, err
		}
		// A filtered or paginated result is a partial view; writing it
		// back would discard cached tasks outside the window.
		if f.Status == "" && f.Page == 0 && f.PerPage == 0 {
			if err := g.Store.SaveTasks(ctx, tasks); err != nil {
				return nil, err
			}
		}
		return tasks, nil
	}

	tasks, err := g.Store.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	tasks = domain.FilterByStatus(tasks, f.Status)
	domain.SortTasks(tasks)
	return paginate(tasks, f.Page, f.PerPage), nil
}

// Task fetches one task by id, from the remote API when online and the
// cache when offline.
func (g *Gateway) Task(ctx context.Context, id int64) (domain.Task, error) {
	if g.Monitor.Online() {
		return g.API.GetTask(ctx, id)
	}
	return g.cachedTask(ctx, id)
}

// Create validates and creates a task. Offline, a placeholder task with
// a locally generated id and client-stamped creation time is cached and
// queued; the call returns it immediately without waiting for
// connectivity.
func (g *Gateway) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := validate(&t); err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = g.now().UTC().Format(time.RFC3339)

	if g.Monitor.Online() {
		created, err := g.API.CreateTask(ctx, t)
		if err != nil {
			return domain.Task{}, err
		}
		if _, err := g.Store.AddTask(ctx, created); err != nil {
			return domain.Task{}, err
		}
		return created, nil
	}

	// Negative time-derived id marks the task as unconfirmed; the
	// syncer swaps it for the server id after the create replays.
	t.ID = -g.now().UnixMilli()
	stored, err := g.Store.AddTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := g.Store.AddPendingAction(ctx, domain.PendingAction{
		Type:      domain.ActionCreate,
		Task:      &stored,
		ClientRef: uuid.NewString(),
	}); err != nil {
		return domain.Task{}, err
	}
	return stored, nil
}

// Update replaces a task whole.
func (g *Gateway) Update(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := validate(&t); err != nil {
		return domain.Task{}, err
	}

	if g.Monitor.Online() {
		updated, err := g.API.UpdateTask(ctx, t)
		if err != nil {
			return domain.Task{}, err
		}
		if err := g.Store.UpdateTask(ctx, updated); err != nil {
			return domain.Task{}, err
		}
		return updated, nil
	}

	if err := g.Store.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if _, err := g.Store.AddPendingAction(ctx, domain.PendingAction{
		Type: domain.ActionUpdate,
		Task: &t,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Patch applies a partial update by id. Offline it requires the target
// to already exist in the cache; an absent id fails with ErrNotFound
// and enqueues nothing.
func (g *Gateway) Patch(ctx context.Context, id int64, p api.TaskPatch) (domain.Task, error) {
	if p.Status != nil && !domain.ValidStatus(*p.Status) {
		return domain.Task{}, ErrInvalidStatus
	}
	if p.Title != nil && len(strings.TrimSpace(*p.Title)) < domain.MinTitleLen {
		return domain.Task{}, ErrInvalidTitle
	}

	if g.Monitor.Online() {
		patched, err := g.API.PatchTask(ctx, id, p)
		if err != nil {
			return domain.Task{}, err
		}
		if err := g.Store.UpdateTask(ctx, patched); err != nil {
			return domain.Task{}, err
		}
		return patched, nil
	}

	t, err := g.cachedTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	applyPatch(&t, p)
	if err := g.Store.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if _, err := g.Store.AddPendingAction(ctx, domain.PendingAction{
		Type: domain.ActionUpdate,
		Task: &t,
	}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ChangeStatus moves a task between todo, in-progress, and done.
func (g *Gateway) ChangeStatus(ctx context.Context, id int64, status string) (domain.Task, error) {
	return g.Patch(ctx, id, api.TaskPatch{Status: &status})
}

// Delete removes a task.
func (g *Gateway) Delete(ctx context.Context, id int64) error {
	if g.Monitor.Online() {
		if err := g.API.DeleteTask(ctx, id); err != nil {
			return err
		}
		return g.Store.DeleteTask(ctx, id)
	}

	if err := g.Store.DeleteTask(ctx, id); err != nil {
		return err
	}
	_, err := g.Store.AddPendingAction(ctx, domain.PendingAction{
		Type:   domain.ActionDelete,
		TaskID: id,
	})
	return err
}

// Reorder persists a new display order: every task's priority is
// rewritten to its index in the supplied sequence. Online, the remote
// API is patched one task at a time before the cache is updated.
func (g *Gateway) Reorder(ctx context.Context, tasks []domain.Task) ([]domain.Task, error) {
	if g.Monitor.Online() {
		for i, t := range tasks {
			if _, err := g.API.PatchPriority(ctx, t.ID, i); err != nil {
				return nil, err
			}
		}
		return g.Store.ReorderTasks(ctx, tasks)
	}

	reordered, err := g.Store.ReorderTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if _, err := g.Store.AddPendingAction(ctx, domain.PendingAction{
		Type:  domain.ActionReorder,
		Tasks: reordered,
	}); err != nil {
		return nil, err
	}
	return reordered, nil
}

func (g *Gateway) cachedTask(ctx context.Context, id int64) (domain.Task, error) {
	tasks, err := g.Store.Tasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, ErrNotFound
}

func validate(t *domain.Task) error {
	if len(strings.TrimSpace(t.Title)) < domain.MinTitleLen {
		return ErrInvalidTitle
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	if !domain.ValidStatus(t.Status) {
		return ErrInvalidStatus
	}
	return nil
}

func applyPatch(t *domain.Task, p api.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = p.Priority
	}
}

func paginate(tasks []domain.Task, page, perPage int) []domain.Task {
	if perPage <= 0 {
		return tasks
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(tasks) {
		return []domain.Task{}
	}
	end := start + perPage
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end]
}
