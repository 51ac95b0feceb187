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
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"slaline/internal/config"
	"slaline/internal/domain"
	"slaline/internal/engine"
	"slaline/internal/engine/auth"
	"slaline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"sla_not_active"`
	Message string         `json:"message" example:"sla 3 is paused"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"capability\":\"operations\"}"`
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

// New returns an HTTP handler exposing the Slaline API.
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
	hcfg := huma.DefaultConfig("Slaline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerClients(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerSLAs(group, cfg.Engine)
	registerAlerts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": fe.Capability})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidReference):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_reference", err.Error(), nil)
	case errors.Is(err, engine.ErrSLANotActive):
		return newAPIError(http.StatusConflict, "sla_not_active", err.Error(), nil)
	case errors.Is(err, engine.ErrSLANotPaused):
		return newAPIError(http.StatusConflict, "sla_not_paused", err.Error(), nil)
	case errors.Is(err, engine.ErrAlertNotOpen):
		return newAPIError(http.StatusConflict, "alert_not_open", err.Error(), nil)
	case errors.Is(err, engine.ErrAlertNotResolvable):
		return newAPIError(http.StatusConflict, "alert_not_resolvable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown comparator") {
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
		return "invalid_reference"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasCapability(caps []string, capability string) bool {
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}

// requireCapability checks the token's capability claims first, then the
// registry's RBAC tables.
func requireCapability(ctx context.Context, e engine.Engine, capability string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasCapability(principal.Capabilities, capability) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasCapability(ctx, tx, principal.ActorID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Capability: capability}
	}
	return nil
}

// requireAdminRole gates RBAC management on the admin role itself.
func requireAdminRole(ctx context.Context, e engine.Engine) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	for _, role := range principal.Roles {
		if role == "admin" {
			return nil
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, principal.ActorID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role == "admin" {
			return nil
		}
	}
	return auth.ForbiddenError{Capability: "admin"}
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
	openPaths := map[string]bool{
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
			if openPaths[route] {
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
    <title>Slaline API Docs</title>
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
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Registry status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		clients, err := e.Repo.CountClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		slaCounts, err := e.Repo.CountSLAsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		alertCounts, err := e.Repo.CountAlertsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		name := ""
		if e.Config != nil {
			name = e.Config.Registry.Name
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Registry:    name,
			Clients:     clients,
			SLACounts:   slaCounts,
			AlertCounts: alertCounts,
		}}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Register client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterClientRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if err := requireCapability(ctx, e, config.CapRegistration); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RegisterClient(ctx, input.Body.Name, input.Body.OwnerRef, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClientResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClientResponse `json:"body"`
		}{Body: mapClients(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-client-contracts",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/contracts",
		Summary:     "List client contracts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body []ContractResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListContractsByClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ContractResponse `json:"body"`
		}{Body: mapContracts(items)}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	type createContractOutput struct {
		Body struct {
			Contract ContractResponse `json:"contract"`
			SLAs     []SLAResponse    `json:"slas"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "create-contract",
		Method:        http.MethodPost,
		Path:          "/contracts",
		Summary:       "Create contract",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateContractRequest `json:"body"`
	}) (*createContractOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ClientID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_id is required", nil)
		}
		if err := requireCapability(ctx, e, config.CapRegistration); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		defs := make([]engine.SLADefinition, 0, len(input.Body.SLAs))
		for _, d := range input.Body.SLAs {
			defs = append(defs, slaDefinition(d))
		}
		contract, slas, err := e.CreateContract(ctx, engine.ContractCreateOptions{
			ClientID:    input.Body.ClientID,
			ExternalID:  input.Body.ExternalID,
			DocumentRef: input.Body.DocumentRef,
			StartAt:     input.Body.StartAt,
			EndAt:       input.Body.EndAt,
			SLAs:        defs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &createContractOutput{}
		out.Body.Contract = contractResponse(contract)
		out.Body.SLAs = nonNilSlice(mapSLAs(slas))
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Get contract",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractID int64 `path:"contract_id"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetContract(ctx, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contract-document",
		Method:      http.MethodPatch,
		Path:        "/contracts/{contract_id}/document",
		Summary:     "Update contract document reference",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ContractID int64                         `path:"contract_id"`
		Body       UpdateContractDocumentRequest `json:"body"`
	}) (*struct {
		Body ContractResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireCapability(ctx, e, config.CapRegistration); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateContractDocument(ctx, input.ContractID, input.Body.DocumentRef, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractResponse `json:"body"`
		}{Body: contractResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contract-slas",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/slas",
		Summary:     "List contract SLAs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractID int64 `path:"contract_id"`
	}) (*struct {
		Body []SLAResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetContract(ctx, input.ContractID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSLAs(ctx, repo.SLAFilters{ContractID: input.ContractID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SLAResponse `json:"body"`
		}{Body: mapSLAs(items)}, nil
	})
}

func slaDefinition(d SLADefinitionRequest) engine.SLADefinition {
	return engine.SLADefinition{
		Name:          d.Name,
		Description:   d.Description,
		Target:        d.Target,
		Comparator:    domain.Comparator(d.Comparator),
		WindowSeconds: d.WindowSeconds,
	}
}

func registerSLAs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sla",
		Method:        http.MethodPost,
		Path:          "/slas",
		Summary:       "Attach SLA to contract",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSLARequest `json:"body"`
	}) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ContractID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "contract_id is required", nil)
		}
		if err := requireCapability(ctx, e, config.CapRegistration); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSLA(ctx, engine.SLACreateOptions{
			ContractID:    input.Body.ContractID,
			SLADefinition: slaDefinition(input.Body.SLADefinitionRequest),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: slaResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-slas",
		Method:      http.MethodGet,
		Path:        "/slas",
		Summary:     "List SLAs",
	}, func(ctx context.Context, input *struct {
		ContractID int64  `query:"contract_id"`
		Status     string `query:"status" enum:",active,paused,archived"`
	}) (*struct {
		Body []SLAResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListSLAs(ctx, repo.SLAFilters{
			ContractID: input.ContractID,
			Status:     input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SLAResponse `json:"body"`
		}{Body: mapSLAs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sla",
		Method:      http.MethodGet,
		Path:        "/slas/{sla_id}",
		Summary:     "Get SLA",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SLAID int64 `path:"sla_id"`
	}) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetSLA(ctx, input.SLAID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: slaResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-metric",
		Method:      http.MethodPost,
		Path:        "/slas/{sla_id}/report",
		Summary:     "Report a metric observation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SLAID int64               `path:"sla_id"`
		Body  ReportMetricRequest `json:"body"`
	}) (*struct {
		Body EvaluationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireCapability(ctx, e, config.CapRegistration); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.ReportMetric(ctx, input.SLAID, input.Body.Observed, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvaluationResponse `json:"body"`
		}{Body: EvaluationResponse{
			SLA:    slaResponse(out.SLA),
			Passed: out.Passed,
			Alert:  alertResponsePtr(out.Alert),
		}}, nil
	})

	registerSLAStatus(api, e, "pause-sla", "/slas/{sla_id}/pause", "Pause SLA", e.PauseSLA)
	registerSLAStatus(api, e, "resume-sla", "/slas/{sla_id}/resume", "Resume SLA", e.ResumeSLA)

	huma.Register(api, huma.Operation{
		OperationID: "update-sla-target",
		Method:      http.MethodPatch,
		Path:        "/slas/{sla_id}/target",
		Summary:     "Update SLA target",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SLAID int64                  `path:"sla_id"`
		Body  UpdateSLATargetRequest `json:"body"`
	}) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireCapability(ctx, e, config.CapNovelty); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSLATarget(ctx, input.SLAID, input.Body.Target, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: slaResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sla-params",
		Method:      http.MethodPatch,
		Path:        "/slas/{sla_id}/params",
		Summary:     "Update SLA comparator and window",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SLAID int64                  `path:"sla_id"`
		Body  UpdateSLAParamsRequest `json:"body"`
	}) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireCapability(ctx, e, config.CapNovelty); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSLAParams(ctx, input.SLAID, domain.Comparator(input.Body.Comparator), input.Body.WindowSeconds, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: slaResponse(s)}, nil
	})
}

type slaStatusFn func(ctx context.Context, slaID int64, reason, actorID string) (domain.SLA, error)

func registerSLAStatus(api huma.API, e engine.Engine, opID, route, summary string, fn slaStatusFn) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SLAID int64                  `path:"sla_id"`
		Body  SLAStatusChangeRequest `json:"body"`
	}) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		if err := requireCapability(ctx, e, config.CapNovelty); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := fn(ctx, input.SLAID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: slaResponse(s)}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List alerts",
	}, func(ctx context.Context, input *struct {
		SLAID  int64  `query:"sla_id"`
		Status string `query:"status" enum:",open,acknowledged,resolved"`
	}) (*struct {
		Body []AlertResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{
			SLAID:  input.SLAID,
			Status: input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AlertResponse `json:"body"`
		}{Body: mapAlerts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-alert",
		Method:      http.MethodGet,
		Path:        "/alerts/{alert_id}",
		Summary:     "Get alert",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AlertID int64 `path:"alert_id"`
	}) (*struct {
		Body AlertResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetAlert(ctx, input.AlertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertResponse `json:"body"`
		}{Body: alertResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/ack",
		Summary:     "Acknowledge alert",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AlertID int64 `path:"alert_id"`
	}) (*struct {
		Body AlertResponse `json:"body"`
	}, error) {
		if err := requireCapability(ctx, e, config.CapOperations); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AcknowledgeAlert(ctx, input.AlertID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertResponse `json:"body"`
		}{Body: alertResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-alert",
		Method:      http.MethodPost,
		Path:        "/alerts/{alert_id}/resolve",
		Summary:     "Resolve alert",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AlertID int64               `path:"alert_id"`
		Body    ResolveAlertRequest `json:"body"`
	}) (*struct {
		Body AlertResponse `json:"body"`
	}, error) {
		if err := requireCapability(ctx, e, config.CapOperations); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ResolveAlert(ctx, input.AlertID, actorID, input.Body.ResolutionNote)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertResponse `json:"body"`
		}{Body: alertResponse(a)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",client,contract,sla,alert,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requireAdminRole(ctx, e); err != nil {
			return nil, handleError(err)
		}
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		if err := changeRole(ctx, e, input.Body.ActorID, input.Body.RoleID, true); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requireAdminRole(ctx, e); err != nil {
			return nil, handleError(err)
		}
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		if err := changeRole(ctx, e, input.Body.ActorID, input.Body.RoleID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func changeRole(ctx context.Context, e engine.Engine, actorID, roleID string, grant bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if grant {
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, actorID, roleID); err != nil {
			return err
		}
	} else {
		if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
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
		caps := principal.Capabilities
		if len(caps) == 0 {
			tx, err := e.DB.BeginTx(ctx, nil)
			if err != nil {
				return nil, handleError(err)
			}
			defer tx.Rollback()
			if dbRoles, err := e.Auth.ActorRoles(ctx, tx, principal.ActorID); err == nil && len(roles) == 0 {
				roles = dbRoles
			}
			if dbCaps, err := e.Auth.ActorCapabilities(ctx, tx, principal.ActorID); err == nil {
				caps = dbCaps
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:      principal.ActorID,
			Roles:        nonNilSlice(roles),
			Capabilities: nonNilSlice(caps),
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
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Capabilities)
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
