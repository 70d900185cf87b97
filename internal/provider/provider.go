// Package provider gives the orchestrator a uniform client for multimodal
// completion backends. Which implementation runs is a construction-time
// decision; callers only see the Client interface.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/atelislab/atelis/internal/history"
)

// ErrTimeout marks a provider call that exceeded the configured deadline.
// Nothing is retried; the caller decides whether to resubmit.
var ErrTimeout = errors.New("provider timed out")

// ErrUnavailable marks a transport or backend failure. The wrapped message
// names the endpoint so the diagnostic is actionable.
var ErrUnavailable = errors.New("provider unavailable")

// Request is one completion call: a filled prompt, zero or more base64 image
// encodings, and prior turns for conversational context.
type Request struct {
	Prompt  string
	Images  []string
	History []history.Turn
}

// Client is the uniform provider interface.
type Client interface {
	// Complete returns the raw text of the model's reply. It does not retry.
	Complete(ctx context.Context, req Request) (string, error)
	// Name identifies the backend in logs and status output.
	Name() string
}

// classifyErr translates a transport error into the provider error taxonomy.
func classifyErr(err error, endpoint string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request to %s did not complete in time: %w", endpoint, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request to %s did not complete in time: %w", endpoint, ErrTimeout)
	}
	return fmt.Errorf("service not reachable at %s: %v: %w", endpoint, err, ErrUnavailable)
}

// sniffMime detects the media type of a base64-encoded image for wire
// formats that require an explicit mime type. Defaults to image/jpeg when
// detection is inconclusive.
func sniffMime(enc string) string {
	head := enc
	if len(head) > 512 {
		head = head[:512]
	}
	raw, err := base64.StdEncoding.WithPadding(base64.NoPadding).DecodeString(trimPadding(head))
	if err != nil || len(raw) == 0 {
		return "image/jpeg"
	}
	ct := http.DetectContentType(raw)
	switch ct {
	case "image/png", "image/gif", "image/webp", "image/jpeg":
		return ct
	}
	return "image/jpeg"
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	// Base64 decodes in 4-char groups; drop the ragged tail of the sample.
	return s[:len(s)-len(s)%4]
}
