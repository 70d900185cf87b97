package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/atelislab/atelis/internal/history"
)

// Ollama talks to a local Ollama instance over its /api/chat endpoint.
type Ollama struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOllama creates an Ollama client for the given base URL and model.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: 0, // per-request deadline via context
		},
	}
}

func (c *Ollama) Name() string { return "ollama" }

// ollamaMessage is a chat message in the Ollama API format. Images are
// base64 payloads attached to the message that introduces them.
type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// chatResponse is the JSON returned by POST /api/chat (non-streaming).
type chatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Complete sends the prompt, images, and prior turns to the local model and
// returns the assistant's reply text.
func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]ollamaMessage, 0, len(req.History)+1)
	for _, t := range req.History {
		msgs = append(msgs, ollamaMessage{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, ollamaMessage{
		Role:    history.RoleUser,
		Content: req.Prompt,
		Images:  req.Images,
	})

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	endpoint := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyErr(err, endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d (is model %q installed?): %w",
			resp.StatusCode, c.model, ErrUnavailable)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	// The backend answered, so this is not a transport failure; no sentinel.
	if result.Message.Content == "" {
		return "", fmt.Errorf("ollama returned an empty reply")
	}
	return result.Message.Content, nil
}

// Ping reports whether the Ollama server responds to GET /api/tags.
func (c *Ollama) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
