package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelislab/atelis/internal/history"
)

// Gemini talks to the Google Generative Language API.
type Gemini struct {
	baseURL    string
	model      string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewGemini creates a Gemini client. baseURL is overridable for tests.
func NewGemini(baseURL, model, apiKey string, timeout time.Duration) *Gemini {
	return &Gemini{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: 0, // per-request deadline via context
		},
	}
}

func (c *Gemini) Name() string { return "gemini" }

// Wire types for models/{model}:generateContent. The API uses role "model"
// where we use "assistant".
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content,omitempty"`
	} `json:"candidates,omitempty"`
}

func wireRole(role string) string {
	if role == history.RoleAssistant {
		return "model"
	}
	return "user"
}

// Complete sends the prompt, inline images, and prior turns and returns the
// model's reply text.
func (c *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, t := range req.History {
		contents = append(contents, geminiContent{
			Role:  wireRole(t.Role),
			Parts: []geminiPart{{Text: t.Text}},
		})
	}

	parts := []geminiPart{{Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: sniffMime(img),
				Data:     img,
			},
		})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: parts})

	body, err := json.Marshal(geminiRequest{Contents: contents})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyErr(err, endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gemini returned status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(detail)), ErrUnavailable)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var sb strings.Builder
	if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		for _, p := range result.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	// The backend answered, so this is not a transport failure; no sentinel.
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return sb.String(), nil
}
