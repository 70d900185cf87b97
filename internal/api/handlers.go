package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/media"
	"github.com/atelislab/atelis/internal/provider"
	"github.com/atelislab/atelis/internal/session"
)

// Uploads carry base64 image payloads, so allow a generous body.
const maxRequestBodySize = 64 << 20 // 64MB

type ImageUpload struct {
	Filename string `json:"filename"`
	Tag      string `json:"tag"`
	Data     string `json:"data"` // base64
}

type AnalyzeRequest struct {
	Classification string        `json:"classification"`
	Description    string        `json:"description"`
	Images         []ImageUpload `json:"images"`
}

type ConverseRequest struct {
	Message string `json:"message"`
}

type Deps struct {
	Sessions *session.Orchestrator
	Token    string // empty disables auth (local single-user mode)
}

// NewHandler returns the REST surface the classroom UI talks to. The health
// endpoint stays unauthenticated so the status command can probe it.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Route("/students/{id}", func(r chi.Router) {
			r.Post("/analyze", handleAnalyze(deps))
			r.Post("/converse", handleConverse(deps))
			r.Get("/history", handleHistory(deps))
			r.Get("/state", handleState(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		images := make([]session.Image, 0, len(req.Images))
		for _, img := range req.Images {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "image %s: invalid base64 data", img.Filename)
				return
			}
			images = append(images, session.Image{
				Filename: img.Filename,
				Tag:      img.Tag,
				Data:     data,
			})
		}

		analysis, err := deps.Sessions.Analyze(r.Context(), chi.URLParam(r, "id"), session.AnalyzeRequest{
			Classification: req.Classification,
			Description:    req.Description,
			Images:         images,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"analysis": analysis})
	}
}

func handleConverse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		defer r.Body.Close()

		var req ConverseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Sessions.Converse(r.Context(), chi.URLParam(r, "id"), req.Message)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reply": reply})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := deps.Sessions.History(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if turns == nil {
			turns = []history.Turn{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"turns": turns})
	}
}

func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := deps.Sessions.State(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if state == nil {
			httpError(w, http.StatusNotFound, "not_found", "no session state for student")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)
	}
}

// writeDomainError maps orchestrator failures onto the HTTP surface.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *session.ValidationError
	var encErr *media.EncodingError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Error())
	case errors.As(err, &encErr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", encErr.Error())
	case errors.Is(err, provider.ErrTimeout):
		httpError(w, http.StatusGatewayTimeout, "provider_error", "model did not answer in time: %v", err)
	case errors.Is(err, provider.ErrUnavailable):
		httpError(w, http.StatusBadGateway, "provider_error", "model backend unavailable: %v", err)
	case errors.Is(err, history.ErrCorrupted):
		httpError(w, http.StatusInternalServerError, "storage_error", "student record unreadable: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
