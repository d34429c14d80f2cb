package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"complyline/internal/docusign"
	"complyline/internal/engine"
	"complyline/internal/recurrence"
	"complyline/internal/repo"
	"complyline/internal/schema"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"agreement not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Complyline API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Complyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerAgreements(group, cfg.Engine)
	registerForms(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerLeaderboard(group, cfg.Engine)
	registerWebhooks(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var apiErr *docusign.APIError
	if errors.As(err, &apiErr) {
		return newAPIError(http.StatusBadGateway, "provider_error", err.Error(), map[string]any{"status": apiErr.StatusCode})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyFilled):
		return newAPIError(http.StatusConflict, "already_filled", err.Error(), nil)
	case errors.Is(err, recurrence.ErrInvalidFrequency),
		errors.Is(err, recurrence.ErrInvalidCount),
		errors.Is(err, recurrence.ErrInvalidStart):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
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
	case http.StatusBadGateway:
		return "provider_error"
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
    <title>Complyline API Docs</title>
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

func registerAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "auth-login-url",
		Method:      http.MethodGet,
		Path:        "/auth/login-url",
		Summary:     "Provider consent URL",
	}, func(ctx context.Context, input *struct {
		State string `query:"state"`
	}) (*struct {
		Body LoginURLResponse `json:"body"`
	}, error) {
		if e.Tokens == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "oauth not configured", nil)
		}
		oauth, ok := e.Tokens.(*docusign.OAuth)
		if !ok {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "oauth not configured", nil)
		}
		return &struct {
			Body LoginURLResponse `json:"body"`
		}{Body: LoginURLResponse{URL: oauth.AuthURL(input.State)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-callback",
		Method:      http.MethodPost,
		Path:        "/auth/callback",
		Summary:     "Finish provider login",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Code string `json:"code"`
		} `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if input.Body.Code == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "code is required", nil)
		}
		u, err := e.CompleteLogin(ctx, input.Body.Code)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := issueSessionToken(cfg.JWTSecret, u.DocusignID, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Token: token, User: userResponse(u)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-refresh-tokens",
		Method:      http.MethodPost,
		Path:        "/auth/refresh-tokens",
		Summary:     "Rotate stored provider tokens",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RefreshResponse `json:"body"`
	}, error) {
		n, err := e.RefreshAllTokens(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RefreshResponse `json:"body"`
		}{Body: RefreshResponse{Refreshed: n}}, nil
	})
}

func registerAgreements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agreements",
		Method:      http.MethodGet,
		Path:        "/agreements",
		Summary:     "List monitored agreements",
	}, func(ctx context.Context, input *struct {
		AccountID string `query:"account_id"`
	}) (*struct {
		Body []AgreementResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgreements(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AgreementResponse `json:"body"`
		}{Body: mapAgreements(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agreement",
		Method:      http.MethodGet,
		Path:        "/agreements/{envelope_id}",
		Summary:     "Get agreement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnvelopeID string `path:"envelope_id"`
	}) (*struct {
		Body AgreementResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgreement(ctx, input.EnvelopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgreementResponse `json:"body"`
		}{Body: agreementResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-agreements",
		Method:        http.MethodPost,
		Path:          "/agreements/import",
		Summary:       "Import completed envelopes as agreements",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body ImportRequest `json:"body"`
	}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		if input.Body.AccountID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var since time.Time
		if input.Body.Since != "" {
			var err error
			since, err = time.Parse(time.RFC3339, input.Body.Since)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "since must be RFC 3339", nil)
			}
		}
		res, err := e.ImportAgreements(ctx, engine.ImportOptions{
			AccountID:     input.Body.AccountID,
			Since:         since,
			FrequencyDays: input.Body.FrequencyDays,
			DonorEmail:    input.Body.DonorEmail,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming-reviews",
		Method:      http.MethodGet,
		Path:        "/agreements/{envelope_id}/upcoming",
		Summary:     "Upcoming review dates",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnvelopeID string `path:"envelope_id"`
		Count      int    `query:"count" default:"5"`
	}) (*struct {
		Body UpcomingResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgreement(ctx, input.EnvelopeID)
		if err != nil {
			return nil, handleError(err)
		}
		anchor, err := time.Parse(time.RFC3339, a.NextReviewAt)
		if err != nil {
			return nil, handleError(err)
		}
		dates, err := recurrence.Upcoming(anchor, time.Now(), a.FrequencyDays, input.Count)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]string, 0, len(dates))
		for _, d := range dates {
			out = append(out, d.Format("2006-01-02"))
		}
		return &struct {
			Body UpcomingResponse `json:"body"`
		}{Body: UpcomingResponse{EnvelopeID: a.EnvelopeID, Dates: out}}, nil
	})
}

func registerForms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-forms",
		Method:      http.MethodGet,
		Path:        "/forms",
		Summary:     "List compliance forms",
	}, func(ctx context.Context, input *struct {
		EnvelopeID string `query:"envelope_id"`
	}) (*struct {
		Body []FormResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListForms(ctx, input.EnvelopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FormResponse `json:"body"`
		}{Body: mapForms(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-form",
		Method:      http.MethodGet,
		Path:        "/forms/{form_id}",
		Summary:     "Get compliance form",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FormID int64 `path:"form_id"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		f, err := e.Repo.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-form",
		Method:      http.MethodPost,
		Path:        "/forms/{form_id}/answers",
		Summary:     "Submit form answers",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		FormID int64         `path:"form_id"`
		Body   SubmitRequest `json:"body"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		if input.Body.Answers == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "answers are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		files := make(map[string][]engine.FileUpload, len(input.Body.Files))
		for field, uploads := range input.Body.Files {
			for _, up := range uploads {
				data, err := up.decode()
				if err != nil {
					return nil, newAPIError(http.StatusBadRequest, "bad_request",
						fmt.Sprintf("file for %s is not valid base64", field), nil)
				}
				files[field] = append(files[field], engine.FileUpload{
					Name:        up.Name,
					ContentType: up.ContentType,
					Data:        data,
				})
			}
		}
		f, err := e.SubmitForm(ctx, engine.SubmitOptions{
			FormID:  input.FormID,
			Answers: input.Body.Answers,
			Files:   files,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(f)}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/runs/sweep",
		Summary:     "Run the compliance sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		timeout := 300
		if e.Config != nil && e.Config.Review.SweepTimeoutSeconds > 0 {
			timeout = e.Config.Review.SweepTimeoutSeconds
		}
		runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
		res, err := e.Sweep(runCtx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-dispatch",
		Method:      http.MethodPost,
		Path:        "/runs/dispatch",
		Summary:     "Dispatch filled forms to donors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DispatchResult `json:"body"`
	}, error) {
		res, err := e.Dispatch(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DispatchResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerLeaderboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Public funding leaderboard",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []LeaderboardResponse `json:"body"`
	}, error) {
		items, err := e.Repo.Leaderboard(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LeaderboardResponse `json:"body"`
		}{Body: mapLeaderboard(items)}, nil
	})
}
