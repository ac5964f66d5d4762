package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskdesk/internal/engine"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"task already claimed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"resource\":\"task\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskdesk API.
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Taskdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerCompanies(group, cfg.Engine)
	registerDepartments(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerTimers(group, cfg.Engine)
	registerTransfers(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerMemberships(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"resource": ce.Resource})
	}
	var se engine.StateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), map[string]any{"current": se.Current})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
		return "invalid_state"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, companyID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.HasPermission(ctx, tx, companyID, principal.UserID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		joinPath(basePath, "health"):         true,
		joinPath(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func joinPath(base, rest string) string {
	p := path.Join(base, rest)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskdesk API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "company-status",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/status",
		Summary:     "Company task board status",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCompany(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"company_id":  c.ID,
			"status":      c.Status,
			"task_counts": counts,
		}}, nil
	})
}

func registerCompanies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-company",
		Method:        http.MethodPost,
		Path:          "/companies",
		Summary:       "Create company",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCompanyRequest `json:"body"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		name := input.Body.Name
		if name == "" {
			name = input.Body.ID
		}
		c, err := e.InitCompany(ctx, input.Body.ID, name, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List companies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CompanyResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CompanyResponse, 0, len(items))
		for _, c := range items {
			res = append(res, companyResponse(c))
		}
		return &struct {
			Body []CompanyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}",
		Summary:     "Get company",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCompany(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company-config",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/config",
		Summary:     "Get company config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyConfigResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetCompanyConfig(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerDepartments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-department",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/departments",
		Summary:       "Create department",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                  `path:"company_id"`
		Body      CreateDepartmentRequest `json:"body"`
	}) (*struct {
		Body DepartmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" || input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id and name are required", nil)
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.update"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.CreateDepartment(ctx, companyID, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DepartmentResponse `json:"body"`
		}{Body: departmentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/departments",
		Summary:     "List departments",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []DepartmentResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDepartments(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]DepartmentResponse, 0, len(items))
		for _, d := range items {
			res = append(res, departmentResponse(d))
		}
		return &struct {
			Body []DepartmentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		opts := engine.TaskCreateOptions{
			CompanyID:      companyID,
			Type:           input.Body.Type,
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Priority:       input.Body.Priority,
			EstimatedHours: input.Body.EstimatedHours,
			IsPublic:       input.Body.IsPublic,
			ActorID:        userID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.DepartmentID != nil {
			opts.DepartmentID = *input.Body.DepartmentID
		}
		if input.Body.AssigneeID != nil {
			opts.AssigneeID = *input.Body.AssigneeID
		}
		if input.Body.DueDate != nil {
			opts.DueDate = *input.Body.DueDate
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CompanyID    string `path:"company_id"`
		Status       string `query:"status"`
		Type         string `query:"type"`
		DepartmentID string `query:"department_id"`
		AssigneeID   string `query:"assignee_id"`
		CreatedBy    string `query:"created_by"`
		Public       bool   `query:"public"`
		Unassigned   bool   `query:"unassigned"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.TaskFilters{
			CompanyID:       companyID,
			DepartmentID:    input.DepartmentID,
			Type:            input.Type,
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			CreatedBy:       input.CreatedBy,
			PublicOnly:      input.Public,
			UnassignedOnly:  input.Unassigned,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		tasks, err := e.Repo.ListTasks(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			tasks = tasks[:limit]
			last := tasks[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapTasks(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !companyMatches(input.CompanyID, t.CompanyID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in company", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/companies/{company_id}/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		ID        string            `path:"id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bodyMap := rawBodyMap(ctx)
		opts := engine.TaskUpdateOptions{
			ID:      input.ID,
			ActorID: userID,
		}
		opts.Title = input.Body.Title
		opts.Description = input.Body.Description
		opts.Priority = input.Body.Priority
		opts.EstimatedHours = input.Body.EstimatedHours
		opts.ActualHours = input.Body.ActualHours
		opts.IsPublic = input.Body.IsPublic
		if _, ok := bodyMap["assignee_id"]; ok {
			if input.Body.AssigneeID == nil {
				empty := ""
				opts.AssigneeID = &empty
			} else {
				opts.AssigneeID = input.Body.AssigneeID
			}
		}
		if _, ok := bodyMap["due_date"]; ok {
			if input.Body.DueDate == nil {
				empty := ""
				opts.DueDate = &empty
			} else {
				opts.DueDate = input.Body.DueDate
			}
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if !companyMatches(input.CompanyID, t.CompanyID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in company", nil)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/companies/{company_id}/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPatch,
		Path:        "/companies/{company_id}/tasks/{id}/status",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string              `path:"company_id"`
		ID        string              `path:"id"`
		Body      ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeStatus(ctx, input.ID, input.Body.Status, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/tasks/{id}/claim",
		Summary:     "Claim a public task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AcceptPublicTask(ctx, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerTimers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-timer",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/tasks/{id}/timer/start",
		Summary:     "Start task timer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string       `path:"company_id"`
		ID        string       `path:"id"`
		Body      TimerRequest `json:"body,omitempty"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTimer(ctx, input.ID, userID, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-timer",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/tasks/{id}/timer/stop",
		Summary:     "Stop task timer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string       `path:"company_id"`
		ID        string       `path:"id"`
		Body      TimerRequest `json:"body,omitempty"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StopTimer(ctx, input.ID, userID, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-time-logs",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks/{id}/timelogs",
		Summary:     "List task time logs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []TimeLogResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTimeLogs(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TimeLogResponse, 0, len(items))
		for _, l := range items {
			res = append(res, timeLogResponse(l))
		}
		return &struct {
			Body []TimeLogResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerTransfers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-transfer",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/tasks/{id}/transfers",
		Summary:       "Request a transfer or delegation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                `path:"company_id"`
		ID        string                `path:"id"`
		Body      CreateTransferRequest `json:"body"`
	}) (*struct {
		Body TransferResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tr, err := e.CreateTransfer(ctx, engine.TransferCreateOptions{
			TaskID:   input.ID,
			ToUserID: input.Body.ToUserID,
			Kind:     input.Body.TransferType,
			Reason:   input.Body.Reason,
			ActorID:  userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransferResponse `json:"body"`
		}{Body: transferResponse(tr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-transfer",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/transfers/{id}/respond",
		Summary:     "Accept or reject a transfer",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                 `path:"company_id"`
		ID        string                 `path:"id"`
		Body      RespondTransferRequest `json:"body"`
	}) (*struct {
		Body TransferResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tr, err := e.RespondToTransfer(ctx, input.ID, input.Body.Accept, input.Body.ResponseReason, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransferResponse `json:"body"`
		}{Body: transferResponse(tr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-transfers",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/transfers/pending",
		Summary:     "List pending transfers addressed to the caller",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []TransferResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.PendingTransfers(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransferResponse `json:"body"`
		}{Body: nonNilSlice(mapTransfers(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-history",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/transfers/history",
		Summary:     "Transfer history for a user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		UserID    string `query:"user_id"`
	}) (*struct {
		Body []TransferResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		userID := input.UserID
		if userID == "" {
			id, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = id
		}
		items, err := e.TransferHistory(ctx, companyID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransferResponse `json:"body"`
		}{Body: nonNilSlice(mapTransfers(items))}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/tasks/{id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string               `path:"company_id"`
		ID        string               `path:"id"`
		Body      CreateCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, userID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks/{id}/comments",
		Summary:     "List task comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CommentResponse, 0, len(items))
		for _, c := range items {
			res = append(res, commentResponse(c))
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-attachment",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/tasks/{id}/attachments",
		Summary:       "Attach a file reference to a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                  `path:"company_id"`
		ID        string                  `path:"id"`
		Body      CreateAttachmentRequest `json:"body"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddAttachment(ctx, input.ID, userID, input.Body.FileName, input.Body.FileURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: attachmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks/{id}/attachments",
		Summary:     "List task attachments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []AttachmentResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAttachments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AttachmentResponse, 0, len(items))
		for _, a := range items {
			res = append(res, attachmentResponse(a))
		}
		return &struct {
			Body []AttachmentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/tasks/{id}/history",
		Summary:     "Task audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []HistoryResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.history.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryResponse, 0, len(items))
		for _, h := range items {
			res = append(res, historyResponse(h))
		}
		return &struct {
			Body []HistoryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "company-history",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/history",
		Summary:     "Recent history across the company",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    int64  `query:"cursor"`
	}) (*struct {
		Body paginatedHistory `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.history.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.HistoryAfter(ctx, limit+1, input.Cursor, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedHistory{Items: []HistoryResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, h := range items {
			resp.Items = append(resp.Items, historyResponse(h))
		}
		return &struct {
			Body paginatedHistory `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMemberships(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-membership",
		Method:      http.MethodPut,
		Path:        "/companies/{company_id}/memberships",
		Summary:     "Add or update a membership",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      MembershipRequest `json:"body"`
	}) (*struct {
		Body MembershipResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.update"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.UpsertMembership(ctx, companyID, input.Body.DepartmentID, input.Body.UserID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MembershipResponse `json:"body"`
		}{Body: membershipResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-memberships",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/memberships",
		Summary:     "List memberships",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []MembershipResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := requirePermission(ctx, e, companyID, "task.list"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMemberships(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]MembershipResponse, 0, len(items))
		for _, m := range items {
			res = append(res, membershipResponse(m))
		}
		return &struct {
			Body []MembershipResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := e.GrantRole(ctx, companyID, userID, input.Body.UserID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, e.Config.Company.ID)
		if err := e.RevokeUserRole(ctx, companyID, userID, input.Body.UserID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 && e.Config != nil {
			if who, err := e.WhoAmI(ctx, e.Config.Company.ID, principal.UserID); err == nil {
				if len(roles) == 0 {
					roles = who.Roles
				}
				perms = who.Permissions
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID:      principal.UserID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, user, input.Body.Roles, input.Body.Permissions)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func companyFromPathOrHeader(ctx context.Context, pathCompanyID, fallback string) string {
	if pathCompanyID != "" {
		return pathCompanyID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Company-Id")); v != "" {
			return v
		}
	}
	return fallback
}

func companyMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}
