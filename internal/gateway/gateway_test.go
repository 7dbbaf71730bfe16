package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"taskline/internal/api"
	"taskline/internal/cache"
	"taskline/internal/connectivity"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/server"
)

type testEnv struct {
	Gateway *Gateway
	Store   *cache.Store
	Monitor *connectivity.Monitor
	API     *api.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	handler, err := server.New(server.Config{})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})

	conn, err := cache.Open(cache.DBConfig{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := api.New("http://" + ln.Addr().String())
	store := cache.NewStore(conn)
	monitor := connectivity.New(client.Health, time.Hour)
	monitor.Set(true)
	return &testEnv{
		Gateway: New(client, store, monitor),
		Store:   store,
		Monitor: monitor,
		API:     client,
	}
}

func TestOnlineCreateWritesThrough(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.Gateway.Create(ctx, domain.Task{Title: "ship it"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("online create id = %d, want server-assigned positive id", created.ID)
	}
	if created.Status != domain.StatusTodo {
		t.Fatalf("default status = %q", created.Status)
	}

	cached, err := e.Store.Tasks(ctx)
	if err != nil {
		t.Fatalf("cached tasks: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != created.ID {
		t.Fatalf("cache not updated: %+v", cached)
	}
	count, _ := e.Store.PendingCount(ctx)
	if count != 0 {
		t.Fatalf("online create queued %d actions, want 0", count)
	}
}

func TestOfflineCreateQueuesPlaceholder(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.Monitor.Set(false)

	created, err := e.Gateway.Create(ctx, domain.Task{Title: "offline work"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Placeholder() {
		t.Fatalf("offline create id = %d, want negative placeholder", created.ID)
	}
	if created.CreatedAt == "" {
		t.Fatal("offline create missing client-stamped created_at")
	}

	actions, err := e.Store.PendingActions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("queue length = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.Type != domain.ActionCreate || a.Task == nil || a.Task.ID != created.ID {
		t.Fatalf("unexpected queued action: %+v", a)
	}
	if a.ClientRef == "" {
		t.Fatal("create action missing client ref")
	}

	cached, _ := e.Store.Tasks(ctx)
	if len(cached) != 1 || cached[0].ID != created.ID {
		t.Fatalf("placeholder not cached: %+v", cached)
	}
}

func TestCreateValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.Gateway.Create(ctx, domain.Task{Title: "ab"}); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("short title error = %v, want ErrInvalidTitle", err)
	}
	if _, err := e.Gateway.Create(ctx, domain.Task{Title: "valid", Status: "archived"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status error = %v, want ErrInvalidStatus", err)
	}
	// Whitespace does not count toward the minimum.
	if _, err := e.Gateway.Create(ctx, domain.Task{Title: "  a  "}); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("padded title error = %v, want ErrInvalidTitle", err)
	}
	count, _ := e.Store.PendingCount(ctx)
	if count != 0 {
		t.Fatalf("rejected creates queued %d actions", count)
	}
}

func TestOfflinePatchMissingTaskQueuesNothing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.Monitor.Set(false)

	status := domain.StatusDone
	_, err := e.Gateway.Patch(ctx, 12345, api.TaskPatch{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("patch absent task error = %v, want ErrNotFound", err)
	}
	count, _ := e.Store.PendingCount(ctx)
	if count != 0 {
		t.Fatalf("failed patch queued %d actions, want 0", count)
	}
}

func TestOfflinePatchQueuesUpdate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.Monitor.Set(false)

	created, err := e.Gateway.Create(ctx, domain.Task{Title: "to finish"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := e.Gateway.ChangeStatus(ctx, created.ID, domain.StatusDone)
	if err != nil {
		t.Fatalf("change status: %v", err)
	}
	if done.Status != domain.StatusDone {
		t.Fatalf("status = %q", done.Status)
	}

	actions, _ := e.Store.PendingActions(ctx)
	if len(actions) != 2 {
		t.Fatalf("queue length = %d, want create + update", len(actions))
	}
	if actions[1].Type != domain.ActionUpdate || actions[1].Task == nil || actions[1].Task.Status != domain.StatusDone {
		t.Fatalf("unexpected update action: %+v", actions[1])
	}
}

func TestOfflineDeleteQueues(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.Gateway.Create(ctx, domain.Task{Title: "short-lived"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.Monitor.Set(false)

	if err := e.Gateway.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cached, _ := e.Store.Tasks(ctx)
	if len(cached) != 0 {
		t.Fatalf("task still cached after offline delete: %+v", cached)
	}
	actions, _ := e.Store.PendingActions(ctx)
	if len(actions) != 1 || actions[0].Type != domain.ActionDelete || actions[0].TaskID != created.ID {
		t.Fatalf("unexpected queue: %+v", actions)
	}
}

func TestReorderAssignsSequentialPriorities(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var tasks []domain.Task
	for _, title := range []string{"first", "second", "third"} {
		created, err := e.Gateway.Create(ctx, domain.Task{Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		tasks = append(tasks, created)
	}

	// Reverse the display order.
	reversed := []domain.Task{tasks[2], tasks[1], tasks[0]}
	reordered, err := e.Gateway.Reorder(ctx, reversed)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	for i, task := range reordered {
		if task.Priority == nil || *task.Priority != i {
			t.Fatalf("task %d priority = %v, want %d", task.ID, task.Priority, i)
		}
	}

	// The server saw the same priorities.
	remote, err := e.API.ListTasks(ctx, api.ListOptions{SortBy: "priority"})
	if err != nil {
		t.Fatalf("remote list: %v", err)
	}
	if len(remote) != 3 || remote[0].ID != tasks[2].ID || remote[2].ID != tasks[0].ID {
		t.Fatalf("remote order not updated: %+v", remote)
	}
}

func TestOfflineReorderQueuesAction(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	a, _ := e.Gateway.Create(ctx, domain.Task{Title: "task a"})
	b, _ := e.Gateway.Create(ctx, domain.Task{Title: "task b"})
	e.Monitor.Set(false)

	if _, err := e.Gateway.Reorder(ctx, []domain.Task{b, a}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	actions, _ := e.Store.PendingActions(ctx)
	if len(actions) != 1 || actions[0].Type != domain.ActionReorder {
		t.Fatalf("unexpected queue: %+v", actions)
	}
	if len(actions[0].Tasks) != 2 || actions[0].Tasks[0].ID != b.ID {
		t.Fatalf("reorder action payload wrong: %+v", actions[0].Tasks)
	}
}

func TestOfflineListServesFromCache(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Online creates populate the cache as they go.
	for _, title := range []string{"aaa task", "bbb task", "ccc task"} {
		if _, err := e.Gateway.Create(ctx, domain.Task{Title: title}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	e.Monitor.Set(false)

	tasks, err := e.Gateway.Tasks(ctx, Filter{})
	if err != nil {
		t.Fatalf("offline list: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("offline list length = %d, want 3", len(tasks))
	}
	for i, task := range tasks {
		if task.Priority == nil || *task.Priority != i {
			t.Fatalf("offline list out of priority order: %+v", tasks)
		}
	}
}

func TestOfflineListFiltersByStatus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	open, _ := e.Gateway.Create(ctx, domain.Task{Title: "still open"})
	closed, _ := e.Gateway.Create(ctx, domain.Task{Title: "finished"})
	if _, err := e.Gateway.ChangeStatus(ctx, closed.ID, domain.StatusDone); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Gateway.Tasks(ctx, Filter{}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	e.Monitor.Set(false)

	todos, err := e.Gateway.Tasks(ctx, Filter{Status: domain.StatusTodo})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(todos) != 1 || todos[0].ID != open.ID {
		t.Fatalf("unexpected filtered result: %+v", todos)
	}
}

func TestFilteredOnlineListDoesNotClobberCache(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.Gateway.Create(ctx, domain.Task{Title: "open one"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	closed, err := e.Gateway.Create(ctx, domain.Task{Title: "done one"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Gateway.ChangeStatus(ctx, closed.ID, domain.StatusDone); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Gateway.Tasks(ctx, Filter{}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	// A filtered view is partial; it must not shrink the cache.
	if _, err := e.Gateway.Tasks(ctx, Filter{Status: domain.StatusDone}); err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	cached, _ := e.Store.Tasks(ctx)
	if len(cached) != 2 {
		t.Fatalf("filtered list clobbered cache, %d tasks left", len(cached))
	}
}

func TestOfflineGetFallsBackToCache(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	created, err := e.Gateway.Create(ctx, domain.Task{Title: "findable"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.Monitor.Set(false)

	got, err := e.Gateway.Task(ctx, created.ID)
	if err != nil {
		t.Fatalf("offline get: %v", err)
	}
	if got.ID != created.ID || got.Title != "findable" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if _, err := e.Gateway.Task(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent task error = %v, want ErrNotFound", err)
	}
}
