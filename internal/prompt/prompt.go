// Package prompt supplies the text templates sent to the AI providers. The
// orchestrator treats these as opaque string builders.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed templates/editorial.txt
var editorialTemplate string

//go:embed templates/social.txt
var socialTemplate string

//go:embed templates/conversation.txt
var conversationTemplate string

// Greeting is the tutor's first visible message when the conversation
// unlocks after analysis.
const Greeting = "Hi! I'm your design tutor. Now that the initial analysis " +
	"is done, we can talk about your work. Ask me anything, or ask for " +
	"suggestions."

// ImageInfo names one submitted image and its type tag for the context block.
type ImageInfo struct {
	Filename string
	Tag      string
}

// Analysis builds the full critique prompt for a classification: the base
// template followed by the student's context block.
func Analysis(classification string, images []ImageInfo, description string) (string, error) {
	var base string
	switch classification {
	case "editorial":
		base = editorialTemplate
	case "social":
		base = socialTemplate
	default:
		return "", fmt.Errorf("no prompt template for classification %q", classification)
	}

	lines := make([]string, len(images))
	for i, img := range images {
		lines[i] = fmt.Sprintf("%s - %s", img.Filename, img.Tag)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(base))
	sb.WriteString("\n\n---\n### STUDENT CONTEXT\n")
	fmt.Fprintf(&sb, "Classification: %s\n", classification)
	fmt.Fprintf(&sb, "Student description: %s\n", strings.TrimSpace(description))
	fmt.Fprintf(&sb, "Images under review: %s\n", strings.Join(lines, ", "))
	sb.WriteString("\nAnalyze the provided images following the guidelines above.\n")
	return sb.String(), nil
}

// Conversation returns the tutor instructions injected before the first
// reflective exchange.
func Conversation() string {
	return strings.TrimSpace(conversationTemplate)
}
