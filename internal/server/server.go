package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leanflow/internal/domain"
	"leanflow/internal/engine"
	"leanflow/internal/events"
	"leanflow/internal/mutlog"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	// Persist, when set, is called after every mutating request.
	Persist func(context.Context) error
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cycle_detected"`
	Message string         `json:"message" example:"cycle: op-a -> op-b -> op-a"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the LeanFlow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("LeanFlow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{engine: cfg.Engine, persist: cfg.Persist}
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, s)
	registerItems(group, s)
	registerMetrics(group, s)
	registerOperations(group, s)
	registerFiles(group, s)
	registerEvents(group, s)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type service struct {
	engine  *engine.Engine
	persist func(context.Context) error
}

// flush persists the engine state after a mutation when a store is wired.
func (s *service) flush(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	return s.persist(ctx)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, mutlog.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, mutlog.ErrCycleFound) {
		return newAPIError(http.StatusConflict, "cycle_detected", err.Error(), nil)
	}
	if errors.Is(err, mutlog.ErrValidation) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "no longer change"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>LeanFlow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
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

func registerStatus(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts := make(map[string]int)
		for _, item := range s.engine.ListItems("") {
			counts[string(item.State)]++
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Branch:     s.engine.Log.BranchName(),
			HeadCommit: s.engine.Log.Head(),
			ItemCounts: counts,
			Operations: len(s.engine.Operations()),
		}}, nil
	})
}

func registerItems(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateItemRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := s.engine.CreateItem(engine.ItemCreateOptions{
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Priority:           input.Body.Priority,
			Assignee:           input.Body.Assignee,
			Tags:               input.Body.Tags,
			CompletionCriteria: input.Body.CompletionCriteria,
			Dependencies:       input.Body.Dependencies,
			Deadline:           input.Body.Deadline,
			StateTimeoutHours:  input.Body.StateTimeoutHours,
			Metadata:           input.Body.Metadata,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.flush(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" required:"false"`
	}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		state := domain.WorkState(input.State)
		if input.State != "" && !state.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown state %q", input.State), nil)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: s.engine.ListItems(state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prioritized-items",
		Method:      http.MethodGet,
		Path:        "/items/prioritized",
		Summary:     "List items by priority score",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" required:"false"`
		Limit int    `query:"limit" required:"false"`
	}) (*struct {
		Body []engine.ScoredItem `json:"body"`
	}, error) {
		state := domain.WorkState(input.State)
		if input.State != "" && !state.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown state %q", input.State), nil)
		}
		return &struct {
			Body []engine.ScoredItem `json:"body"`
		}{Body: s.engine.GetPrioritizedItems(state, input.Limit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		item, err := s.engine.GetItem(input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/items/{item_id}",
		Summary:     "Update work item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string            `path:"item_id"`
		Body   UpdateItemRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := s.engine.UpdateItem(engine.ItemUpdateOptions{
			ID:                 input.ItemID,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Priority:           input.Body.Priority,
			Assignee:           input.Body.Assignee,
			Tags:               input.Body.Tags,
			CompletionCriteria: input.Body.CompletionCriteria,
			Approved:           input.Body.Approved,
			AddDeps:            input.Body.AddDependencies,
			Deadline:           input.Body.Deadline,
			ClearDeadline:      input.Body.ClearDeadline,
			Blocked:            input.Body.Blocked,
			ClearProblem:       input.Body.ClearProblem,
			Resolve:            input.Body.Resolve,
			ExpertiseMatch:     input.Body.ExpertiseMatch,
			Metadata:           input.Body.Metadata,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.flush(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/transition",
		Summary:     "Transition work item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string            `path:"item_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, err := s.engine.TransitionItem(input.ItemID, input.Body.Target, input.Body.Problem, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if ok {
			if err := s.flush(ctx); err != nil {
				return nil, handleError(err)
			}
		}
		item, err := s.engine.GetItem(input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Transitioned: ok, Item: item}}, nil
	})
}

func registerMetrics(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "workflow-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Workflow metrics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.LeanFlowMetrics `json:"body"`
	}, error) {
		return &struct {
			Body domain.LeanFlowMetrics `json:"body"`
		}{Body: s.engine.WorkflowMetrics()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "metric-trends",
		Method:      http.MethodGet,
		Path:        "/metrics/trends",
		Summary:     "Recent cycle time and flow efficiency samples",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TrendsResponse `json:"body"`
	}, error) {
		return &struct {
			Body TrendsResponse `json:"body"`
		}{Body: TrendsResponse{
			CycleTimeHours: s.engine.CycleTimeTrend(),
			FlowEfficiency: s.engine.FlowEfficiencyTrend(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blockage-analysis",
		Method:      http.MethodGet,
		Path:        "/blockage",
		Summary:     "Blockage analysis",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.BlockageAnalysis `json:"body"`
	}, error) {
		return &struct {
			Body domain.BlockageAnalysis `json:"body"`
		}{Body: s.engine.BlockageAnalysis()}, nil
	})
}

func registerOperations(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-operation",
		Method:        http.MethodPost,
		Path:          "/operations",
		Summary:       "Create atomic operation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateOperationRequest `json:"body"`
	}) (*struct {
		Body domain.AtomicOperation `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := s.engine.CreateOperation(input.Body.Changes, input.Body.Dependencies, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.flush(ctx); err != nil {
			return nil, handleError(err)
		}
		op, err := s.engine.Operation(id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AtomicOperation `json:"body"`
		}{Body: op}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-operations",
		Method:      http.MethodGet,
		Path:        "/operations",
		Summary:     "List atomic operations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AtomicOperation `json:"body"`
	}, error) {
		return &struct {
			Body []domain.AtomicOperation `json:"body"`
		}{Body: s.engine.Operations()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation",
		Method:      http.MethodGet,
		Path:        "/operations/{op_id}",
		Summary:     "Get atomic operation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpID string `path:"op_id"`
	}) (*struct {
		Body domain.AtomicOperation `json:"body"`
	}, error) {
		op, err := s.engine.Operation(input.OpID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AtomicOperation `json:"body"`
		}{Body: op}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-operation",
		Method:      http.MethodPost,
		Path:        "/operations/{op_id}/execute",
		Summary:     "Execute atomic operation",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OpID string `path:"op_id"`
	}) (*struct {
		Body ExecuteResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, err := s.engine.ExecuteOperation(input.OpID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.flush(ctx); err != nil {
			return nil, handleError(err)
		}
		op, err := s.engine.Operation(input.OpID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecuteResponse `json:"body"`
		}{Body: ExecuteResponse{Committed: ok, Operation: op}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "operation-conflicts",
		Method:      http.MethodGet,
		Path:        "/operations/{op_id}/conflicts",
		Summary:     "Detect conflicting operations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OpID string `path:"op_id"`
	}) (*struct {
		Body ConflictsResponse `json:"body"`
	}, error) {
		conflicts, err := s.engine.DetectConflicts(input.OpID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConflictsResponse `json:"body"`
		}{Body: ConflictsResponse{OpID: input.OpID, Conflicts: conflicts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-execute",
		Method:      http.MethodPost,
		Path:        "/operations/batch",
		Summary:     "Execute operations in dependency order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body BatchRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		results, err := s.engine.BatchExecuteOperations(input.Body.IDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.flush(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: BatchResponse{Results: results}}, nil
	})
}

func registerFiles(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodGet,
		Path:        "/files",
		Summary:     "List files at a commit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CommitID string `query:"commit_id" required:"false"`
	}) (*struct {
		Body FilesResponse `json:"body"`
	}, error) {
		files, err := s.engine.ListFiles(input.CommitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FilesResponse `json:"body"`
		}{Body: FilesResponse{CommitID: input.CommitID, Files: files}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "file-content",
		Method:      http.MethodGet,
		Path:        "/files/content",
		Summary:     "Read a file at a commit",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Path     string `query:"path"`
		CommitID string `query:"commit_id" required:"false"`
	}) (*struct {
		Body FileContentResponse `json:"body"`
	}, error) {
		if input.Path == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "path is required", nil)
		}
		content, found, err := s.engine.FileContent(input.Path, input.CommitID)
		if err != nil {
			return nil, handleError(err)
		}
		if !found {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("file %s not found", input.Path), nil)
		}
		return &struct {
			Body FileContentResponse `json:"body"`
		}{Body: FileContentResponse{Path: input.Path, Content: content}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commits",
		Method:      http.MethodGet,
		Path:        "/commits",
		Summary:     "List commits newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Commit `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Commit `json:"body"`
		}{Body: s.engine.Commits()}, nil
	})
}

func registerEvents(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events newest first",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body []events.Entry `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		entries := s.engine.Events.Latest(limit, events.Filters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		return &struct {
			Body []events.Entry `json:"body"`
		}{Body: entries}, nil
	})
}
