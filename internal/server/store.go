package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"taskline/internal/domain"
)

var errTaskNotFound = errors.New("not found")

// memStore is the dev server's task table: a mutex-guarded slice with a
// monotonically increasing id sequence, standing in for the backing
// database a real deployment would have.
type memStore struct {
	mu    sync.Mutex
	seq   int64
	tasks []domain.Task
	now   func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	if now == nil {
		now = time.Now
	}
	return &memStore{now: now}
}

type listQuery struct {
	Status  string
	SortBy  string
	Order   string
	Page    int
	PerPage int
}

func (m *memStore) List(q listQuery) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out, q.SortBy, q.Order)
	if q.PerPage > 0 {
		page := q.Page
		if page <= 0 {
			page = 1
		}
		start := (page - 1) * q.PerPage
		if start >= len(out) {
			return []domain.Task{}
		}
		end := start + q.PerPage
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out
}

func (m *memStore) Get(id int64) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, errTaskNotFound
}

func (m *memStore) Create(t domain.Task) domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = m.seq
	if t.CreatedAt == "" {
		t.CreatedAt = m.now().UTC().Format(time.RFC3339)
	}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *memStore) Replace(t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == t.ID {
			// CreatedAt is set once and immutable thereafter.
			t.CreatedAt = m.tasks[i].CreatedAt
			m.tasks[i] = t
			return t, nil
		}
	}
	return domain.Task{}, errTaskNotFound
}

func (m *memStore) Patch(id int64, apply func(*domain.Task)) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			apply(&m.tasks[i])
			return m.tasks[i], nil
		}
	}
	return domain.Task{}, errTaskNotFound
}

func (m *memStore) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return nil
		}
	}
	return errTaskNotFound
}

func sortTasks(tasks []domain.Task, sortBy, order string) {
	desc := order == "desc"
	less := func(i, j int) bool {
		switch sortBy {
		case "priority":
			pi, pj := 0, 0
			if tasks[i].Priority != nil {
				pi = *tasks[i].Priority
			}
			if tasks[j].Priority != nil {
				pj = *tasks[j].Priority
			}
			return pi < pj
		case "title":
			return tasks[i].Title < tasks[j].Title
		case "created_at":
			return tasks[i].CreatedAt < tasks[j].CreatedAt
		default:
			return tasks[i].ID < tasks[j].ID
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
}
