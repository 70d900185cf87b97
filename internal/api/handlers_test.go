package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/media"
	"github.com/atelislab/atelis/internal/provider"
	"github.com/atelislab/atelis/internal/session"
)

type fakeProvider struct {
	reply string
	err   error
}

func (f *fakeProvider) Complete(_ context.Context, _ provider.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestHandler(t *testing.T, p provider.Client, token string) (http.Handler, string) {
	t.Helper()
	dataDir := t.TempDir()
	sessions := session.New(session.Deps{
		Store:    history.NewStore(dataDir),
		Provider: p,
		Codec:    media.NewCodec(8),
	})
	return NewHandler(Deps{Sessions: sessions, Token: token}), dataDir
}

func analyzeBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	png := append([]byte("\x89PNG\r\n\x1a\n"), "pixels"...)
	body, err := json.Marshal(AnalyzeRequest{
		Classification: "social",
		Description:    "poster drafts for the spring campaign",
		Images: []ImageUpload{
			{Filename: "post.png", Tag: "instagram", Data: base64.StdEncoding.EncodeToString(png)},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(body)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding error envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "ok"}, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "Good contrast, loose alignment."}, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", analyzeBody(t)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["analysis"] != "Good contrast, loose alignment." {
		t.Errorf("analysis = %q", resp["analysis"])
	}
}

func TestAnalyzeValidationError(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "ok"}, "")

	body, _ := json.Marshal(AnalyzeRequest{Classification: "social"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", bytes.NewBuffer(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", env.Error.Type)
	}
	if !strings.Contains(env.Error.Message, "images") {
		t.Errorf("error message = %q, want mention of images", env.Error.Message)
	}
}

func TestAnalyzeInvalidBase64(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "ok"}, "")

	body, _ := json.Marshal(AnalyzeRequest{
		Classification: "social",
		Description:    "drafts",
		Images:         []ImageUpload{{Filename: "post.png", Tag: "instagram", Data: "%%not-base64%%"}},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", bytes.NewBuffer(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env := decodeError(t, rec); !strings.Contains(env.Error.Message, "post.png") {
		t.Errorf("error message = %q, want mention of the file", env.Error.Message)
	}
}

func TestProviderTimeoutMapsTo504(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{err: provider.ErrTimeout}, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", analyzeBody(t)))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if env := decodeError(t, rec); env.Error.Type != "provider_error" {
		t.Errorf("error type = %q", env.Error.Type)
	}
}

func TestProviderUnavailableMapsTo502(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{err: provider.ErrUnavailable}, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", analyzeBody(t)))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if env := decodeError(t, rec); env.Error.Type != "provider_error" {
		t.Errorf("error type = %q", env.Error.Type)
	}
}

func TestConverseEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "What would you change first?"}, "")

	body, _ := json.Marshal(ConverseRequest{Message: "I am not sure about the font"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/converse", bytes.NewBuffer(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["reply"] != "What would you change first?" {
		t.Errorf("reply = %q", resp["reply"])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "Tell me more."}, "")

	body, _ := json.Marshal(ConverseRequest{Message: "hello"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/converse", bytes.NewBuffer(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("converse status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students/alice/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var resp struct {
		Turns []history.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	// dialogue intro pair + exchange
	if len(resp.Turns) != 4 {
		t.Errorf("got %d turns, want 4", len(resp.Turns))
	}
}

func TestStateEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "analysis"}, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students/alice/state", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before any analysis", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/students/alice/analyze", analyzeBody(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students/alice/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var state history.SessionState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.Classification != "social" {
		t.Errorf("classification = %q", state.Classification)
	}
}

func TestCorruptedRecordMapsTo500(t *testing.T) {
	h, dataDir := newTestHandler(t, &fakeProvider{reply: "ok"}, "")

	dir := filepath.Join(dataDir, "students", "alice")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "messages.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students/alice/history", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if env := decodeError(t, rec); env.Error.Type != "storage_error" {
		t.Errorf("error type = %q", env.Error.Type)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProvider{reply: "ok"}, "sesame")

	// Health stays open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students/alice/history", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rec.Code)
	}
	if env := decodeError(t, rec); env.Error.Type != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", env.Error.Type)
	}

	req := httptest.NewRequest(http.MethodGet, "/students/alice/history", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with wrong token", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/students/alice/history", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with valid token", rec.Code)
	}
}
