package domain

import "sort"

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusDone       = "done"
)

// MinTitleLen is the minimum accepted task title length.
const MinTitleLen = 3

type Task struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"todo,in-progress,done"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	Priority    *int   `json:"priority,omitempty"`
}

// Placeholder reports whether the task carries a locally generated id
// that has not yet been confirmed by the remote API.
func (t Task) Placeholder() bool {
	return t.ID < 0
}

// Pending action types.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionReorder = "reorder"
)

// PendingAction is a queued, not-yet-confirmed mutation recorded while
// offline. The populated payload field depends on Type: create and
// update carry a task snapshot, delete carries a task id, and reorder
// carries the full ordered list at enqueue time.
type PendingAction struct {
	ID        string `json:"id"`
	Type      string `json:"type" enum:"create,update,delete,reorder"`
	Task      *Task  `json:"task,omitempty"`
	TaskID    int64  `json:"task_id,omitempty"`
	Tasks     []Task `json:"tasks,omitempty"`
	ClientRef string `json:"client_ref,omitempty"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// SyncStatus aggregates connectivity state, unresolved-action count,
// and the last successful drain time.
type SyncStatus struct {
	IsOnline         bool   `json:"is_online"`
	PendingSyncCount int    `json:"pending_sync_count"`
	LastSyncTime     string `json:"last_sync_time,omitempty" format:"date-time"`
}

func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// SortTasks orders tasks for display: by priority when every task has
// one (lower sorts first), otherwise by creation time.
func SortTasks(tasks []Task) {
	byPriority := len(tasks) > 0
	for _, t := range tasks {
		if t.Priority == nil {
			byPriority = false
			break
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if byPriority {
			return *tasks[i].Priority < *tasks[j].Priority
		}
		return tasks[i].CreatedAt < tasks[j].CreatedAt
	})
}

// FilterByStatus returns the tasks matching status, or all tasks when
// status is empty.
func FilterByStatus(tasks []Task, status string) []Task {
	if status == "" {
		return tasks
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}
