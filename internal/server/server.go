// Package server exposes the tasks REST API the sync client runs
// against. It backs local development and the integration tests; a
// production deployment would point the client elsewhere.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskline/internal/domain"
)

// Config for the HTTP API handler.
type Config struct {
	BasePath string
	Auth     AuthConfig
	Now      func() time.Time
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"task not found"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// New returns an HTTP handler exposing the Taskline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg)
	}

	store := newMemStore(cfg.Now)
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, store)
	registerDevAuth(group, cfg.Auth)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type taskQuery struct {
	Status  string `query:"status" enum:"todo,in-progress,done" required:"false"`
	SortBy  string `query:"sort_by" enum:"priority,created_at,title" required:"false"`
	Order   string `query:"order" enum:"asc,desc" required:"false"`
	Page    int    `query:"page" minimum:"0" required:"false"`
	PerPage int    `query:"per_page" minimum:"0" required:"false"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

type taskListBody struct {
	Body []domain.Task `json:"body"`
}

type createTaskInput struct {
	Body struct {
		Title       string `json:"title" minLength:"3"`
		Description string `json:"description,omitempty"`
		Status      string `json:"status,omitempty" enum:"todo,in-progress,done,"`
		CreatedAt   string `json:"created_at,omitempty"`
		Priority    *int   `json:"priority,omitempty"`
	} `json:"body"`
}

type updateTaskInput struct {
	ID   int64 `path:"id"`
	Body struct {
		// The path id wins; a body id is accepted and ignored so
		// clients may PUT a full task representation back.
		ID          int64  `json:"id,omitempty"`
		Title       string `json:"title" minLength:"3"`
		Description string `json:"description,omitempty"`
		Status      string `json:"status" enum:"todo,in-progress,done"`
		CreatedAt   string `json:"created_at,omitempty"`
		Priority    *int   `json:"priority,omitempty"`
	} `json:"body"`
}

type patchTaskInput struct {
	ID   int64 `path:"id"`
	Body struct {
		Title       *string `json:"title,omitempty"`
		Description *string `json:"description,omitempty"`
		Status      *string `json:"status,omitempty" enum:"todo,in-progress,done"`
		Priority    *int    `json:"priority,omitempty"`
	} `json:"body"`
}

func registerTasks(api huma.API, store *memStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *taskQuery) (*taskListBody, error) {
		items := store.List(listQuery{
			Status:  input.Status,
			SortBy:  input.SortBy,
			Order:   input.Order,
			Page:    input.Page,
			PerPage: input.PerPage,
		})
		return &taskListBody{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*taskBody, error) {
		t, err := store.Get(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found")
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *createTaskInput) (*taskBody, error) {
		status := input.Body.Status
		if status == "" {
			status = domain.StatusTodo
		}
		t := store.Create(domain.Task{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      status,
			CreatedAt:   input.Body.CreatedAt,
			Priority:    input.Body.Priority,
		})
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Replace task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *updateTaskInput) (*taskBody, error) {
		t, err := store.Replace(domain.Task{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found")
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Patch task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *patchTaskInput) (*taskBody, error) {
		if input.Body.Title != nil && len(strings.TrimSpace(*input.Body.Title)) < domain.MinTitleLen {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title too short")
		}
		t, err := store.Patch(input.ID, func(t *domain.Task) {
			if input.Body.Title != nil {
				t.Title = *input.Body.Title
			}
			if input.Body.Description != nil {
				t.Description = *input.Body.Description
			}
			if input.Body.Status != nil {
				t.Status = *input.Body.Status
			}
			if input.Body.Priority != nil {
				t.Priority = input.Body.Priority
			}
		})
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found")
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := store.Delete(input.ID); err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found")
		}
		return &struct{}{}, nil
	})
}
