package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"shiftdrop/internal/domain"
	"shiftdrop/internal/engine"
	"shiftdrop/internal/outbox"
	"shiftdrop/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_filled"`
	Message string         `json:"message" example:"shift is already filled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the shiftdrop API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema violations are bad input, not business rejections
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	hcfg := huma.DefaultConfig("Shiftdrop API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPools(group, cfg.Engine)
	registerShifts(group, cfg.Engine)
	registerClaims(group, cfg.Engine)
	registerOutbox(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"module", "server",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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
	var rej *domain.Rejection
	if errors.As(err, &rej) {
		if rej.Kind.IsValidation() {
			return newAPIError(http.StatusBadRequest, string(rej.Kind), err.Error(), nil)
		}
		return newAPIError(http.StatusUnprocessableEntity, string(rej.Kind), err.Error(), nil)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, outbox.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConcurrencyConflict):
		return newAPIError(http.StatusConflict, "concurrency_conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var errSchema *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Shiftdrop API Docs</title>
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

func registerPools(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pool",
		Method:        http.MethodPost,
		Path:          "/pools",
		Summary:       "Create a pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePoolRequest `json:"body"`
	}) (*struct {
		Body domain.Pool `json:"body"`
	}, error) {
		p, err := e.CreatePool(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pool `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pools",
		Method:      http.MethodGet,
		Path:        "/pools",
		Summary:     "List pools",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Pool `json:"body"`
	}, error) {
		pools, err := e.ListPools(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Pool `json:"body"`
		}{Body: pools}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-casual",
		Method:        http.MethodPost,
		Path:          "/pools/{pool_id}/casuals",
		Summary:       "Add a casual to a pool and send an invite",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PoolPath
		Body ParticipantRequest `json:"body"`
	}) (*struct {
		Body *domain.Casual `json:"body"`
	}, error) {
		c, err := e.AddCasual(ctx, input.PoolID, input.Body.Name, input.Body.Phone)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Casual `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-casuals",
		Method:      http.MethodGet,
		Path:        "/pools/{pool_id}/casuals",
		Summary:     "List casuals in a pool",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *PoolPath) (*struct {
		Body []*domain.Casual `json:"body"`
	}, error) {
		list, err := e.ListCasuals(ctx, input.PoolID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*domain.Casual `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-admin",
		Method:        http.MethodPost,
		Path:          "/pools/{pool_id}/admins",
		Summary:       "Add a pool admin and send an invite",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PoolPath
		Body ParticipantRequest `json:"body"`
	}) (*struct {
		Body domain.PoolAdmin `json:"body"`
	}, error) {
		a, err := e.AddAdmin(ctx, input.PoolID, input.Body.Name, input.Body.Phone)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PoolAdmin `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-shift",
		Method:        http.MethodPost,
		Path:          "/pools/{pool_id}/shifts",
		Summary:       "Post a shift and broadcast it to the pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PoolPath
		Body PostShiftRequest `json:"body"`
	}) (*struct {
		Body *domain.Shift `json:"body"`
	}, error) {
		s, err := e.PostShift(ctx, engine.PostShiftOptions{
			PoolID:      input.PoolID,
			Description: input.Body.Description,
			StartsAt:    input.Body.StartsAt,
			EndsAt:      input.Body.EndsAt,
			SpotsNeeded: input.Body.SpotsNeeded,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Shift `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shifts",
		Method:      http.MethodGet,
		Path:        "/pools/{pool_id}/shifts",
		Summary:     "List shifts in a pool",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *PoolPath) (*struct {
		Body []*domain.Shift `json:"body"`
	}, error) {
		list, err := e.ListShifts(ctx, input.PoolID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*domain.Shift `json:"body"`
		}{Body: list}, nil
	})
}

type PoolPath struct {
	PoolID string `path:"pool_id"`
}

type ShiftPath struct {
	ShiftID string `path:"shift_id"`
}

type shiftResponse struct {
	Body *domain.Shift `json:"body"`
}

type claimResponse struct {
	Body engine.ClaimResult `json:"body"`
}

type claimInput struct {
	ShiftPath
	Body CasualRequest `json:"body"`
}

func registerShifts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-shift",
		Method:      http.MethodGet,
		Path:        "/shifts/{shift_id}",
		Summary:     "Get a shift with its claims",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ShiftPath) (*shiftResponse, error) {
		s, err := e.GetShift(ctx, input.ShiftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &shiftResponse{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-shift",
		Method:      http.MethodPost,
		Path:        "/shifts/{shift_id}/cancel",
		Summary:     "Cancel a shift",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ShiftPath) (*shiftResponse, error) {
		s, err := e.CancelShift(ctx, input.ShiftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &shiftResponse{Body: s}, nil
	})
}

func registerClaims(api huma.API, e engine.Engine) {
	claimErrors := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}
	huma.Register(api, huma.Operation{
		OperationID:   "claim-shift",
		Method:        http.MethodPost,
		Path:          "/shifts/{shift_id}/claims",
		Summary:       "Claim a spot on a shift",
		DefaultStatus: http.StatusCreated,
		Errors:        claimErrors,
	}, func(ctx context.Context, input *claimInput) (*claimResponse, error) {
		res, err := e.ClaimShift(ctx, input.ShiftID, input.Body.CasualID)
		if err != nil {
			return nil, handleError(err)
		}
		return &claimResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-shift",
		Method:      http.MethodPost,
		Path:        "/shifts/{shift_id}/release",
		Summary:     "Release the casual's own claim",
		Errors:      claimErrors,
	}, func(ctx context.Context, input *claimInput) (*claimResponse, error) {
		res, err := e.ReleaseShift(ctx, input.ShiftID, input.Body.CasualID)
		if err != nil {
			return nil, handleError(err)
		}
		return &claimResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manager-release",
		Method:      http.MethodPost,
		Path:        "/shifts/{shift_id}/manager-release",
		Summary:     "Release a casual's claim as a pool admin",
		Errors:      claimErrors,
	}, func(ctx context.Context, input *claimInput) (*claimResponse, error) {
		res, err := e.ManagerRelease(ctx, input.ShiftID, input.Body.CasualID)
		if err != nil {
			return nil, handleError(err)
		}
		return &claimResponse{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "casual-claims",
		Method:      http.MethodGet,
		Path:        "/casuals/{casual_id}/claims",
		Summary:     "Active claims held by a casual",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CasualID string `path:"casual_id"`
	}) (*struct {
		Body []*domain.Claim `json:"body"`
	}, error) {
		claims, err := e.CasualClaims(ctx, input.CasualID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*domain.Claim `json:"body"`
		}{Body: claims}, nil
	})
}

func registerOutbox(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outbox",
		Method:      http.MethodGet,
		Path:        "/outbox",
		Summary:     "List outbox messages, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" doc:"Pending, Sent, Failed or Cancelled"`
		Reference string `query:"reference"`
		Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
	}) (*struct {
		Body OutboxList `json:"body"`
	}, error) {
		if input.Status != "" && !outbox.Status(input.Status).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "unknown status "+input.Status, nil)
		}
		msgs, err := e.ListOutbox(ctx, outbox.ListFilter{
			Status:    outbox.Status(input.Status),
			Reference: input.Reference,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]OutboxMessage, 0, len(msgs))
		for _, m := range msgs {
			items = append(items, toOutboxMessage(m))
		}
		return &struct {
			Body OutboxList `json:"body"`
		}{Body: OutboxList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "outbox-stats",
		Method:      http.MethodGet,
		Path:        "/outbox/stats",
		Summary:     "Count outbox messages per status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OutboxStats `json:"body"`
	}, error) {
		counts, err := e.OutboxStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutboxStats `json:"body"`
		}{Body: toOutboxStats(counts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-message",
		Method:      http.MethodPost,
		Path:        "/outbox/{message_id}/cancel",
		Summary:     "Withdraw a pending message",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MessageID string `path:"message_id"`
	}) (*struct {
		Body CancelMessageResponse `json:"body"`
	}, error) {
		ok, err := e.CancelMessage(ctx, input.MessageID)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.Message(ctx, input.MessageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelMessageResponse `json:"body"`
		}{Body: CancelMessageResponse{Cancelled: ok, Message: toOutboxMessage(m)}}, nil
	})
}
