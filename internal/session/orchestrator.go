package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/media"
	"github.com/atelislab/atelis/internal/prompt"
	"github.com/atelislab/atelis/internal/provider"
)

const defaultMaxImages = 20

// Image is one uploaded design piece: its original filename, the type tag
// the student assigned, and the raw bytes.
type Image struct {
	Filename string
	Tag      string
	Data     []byte
}

// AnalyzeRequest carries everything a student submits for an analysis run.
type AnalyzeRequest struct {
	Classification string
	Description    string
	Images         []Image
}

// Deps wires an Orchestrator.
type Deps struct {
	Store    *history.Store
	Provider provider.Client
	Codec    *media.Codec

	MaxImages         int
	MaxImageDimension int
	Logger            *slog.Logger
}

// Orchestrator coordinates one student request end to end: validation,
// file persistence, prompt assembly, the provider call, and the history
// append. It holds no per-student state of its own; the store does.
type Orchestrator struct {
	store     *history.Store
	provider  provider.Client
	codec     *media.Codec
	maxImages int
	maxDim    int
	logger    *slog.Logger
}

func New(deps Deps) *Orchestrator {
	maxImages := deps.MaxImages
	if maxImages <= 0 {
		maxImages = defaultMaxImages
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     deps.Store,
		provider:  deps.Provider,
		codec:     deps.Codec,
		maxImages: maxImages,
		maxDim:    deps.MaxImageDimension,
		logger:    logger,
	}
}

// Analyze runs the initial critique for a student submission. The prompt
// turn is persisted before the provider call, so a provider failure leaves
// the submission on record; the assistant turn is only appended on success.
func (o *Orchestrator) Analyze(ctx context.Context, studentID string, req AnalyzeRequest) (string, error) {
	if err := o.validate(req); err != nil {
		return "", err
	}

	prior, err := o.store.Load(studentID)
	if err != nil {
		return "", err
	}

	// Gate every image before the first write so a bad upload in the middle
	// of the batch leaves nothing behind on disk.
	reduced := make([][]byte, len(req.Images))
	for i, img := range req.Images {
		data, err := media.Reduce(img.Data, o.maxDim)
		if err != nil {
			return "", &media.EncodingError{Path: img.Filename, Err: err}
		}
		if _, err := media.Sniff(data); err != nil {
			return "", &media.EncodingError{Path: img.Filename, Err: err}
		}
		reduced[i] = data
	}

	paths := make([]string, 0, len(req.Images))
	encoded := make([]string, 0, len(req.Images))
	descriptors := make([]history.ImageDescriptor, 0, len(req.Images))
	infos := make([]prompt.ImageInfo, 0, len(req.Images))
	for i, img := range req.Images {
		rel, err := o.store.SaveFile(studentID, img.Filename, reduced[i])
		if err != nil {
			return "", fmt.Errorf("saving %s: %w", img.Filename, err)
		}
		enc, err := o.codec.Encode(o.store.FilePath(studentID, rel))
		if err != nil {
			return "", err
		}
		paths = append(paths, rel)
		encoded = append(encoded, enc)
		descriptors = append(descriptors, history.ImageDescriptor{
			Filename: img.Filename,
			Type:     img.Tag,
			Size:     int64(len(reduced[i])),
		})
		infos = append(infos, prompt.ImageInfo{Filename: img.Filename, Tag: img.Tag})
	}

	text, err := prompt.Analysis(req.Classification, infos, req.Description)
	if err != nil {
		return "", err
	}

	userTurn := history.Turn{
		Role:    history.RoleUser,
		Text:    text,
		Images:  paths,
		Visible: false,
	}
	if err := o.store.Append(studentID, userTurn); err != nil {
		return "", err
	}

	analysis, err := o.provider.Complete(ctx, provider.Request{
		Prompt:  text,
		Images:  encoded,
		History: prior,
	})
	if err != nil {
		o.logger.Warn("analysis failed", "student", studentID, "provider", o.provider.Name(), "error", err)
		return "", err
	}

	if err := o.store.Append(studentID, history.Turn{
		Role:    history.RoleAssistant,
		Text:    analysis,
		Visible: false,
	}); err != nil {
		return "", err
	}

	state := history.SessionState{
		Classification: req.Classification,
		Description:    req.Description,
		Files:          descriptors,
		Analysis:       analysis,
	}
	if err := o.store.SaveState(studentID, state); err != nil {
		// State is a disposable snapshot; the turns already made it to disk.
		o.logger.Warn("saving session state", "student", studentID, "error", err)
	}
	return analysis, nil
}

func (o *Orchestrator) validate(req AnalyzeRequest) error {
	if req.Classification == "" {
		return &ValidationError{Field: "classification", Reason: "classification is required"}
	}
	if _, ok := AllowedTags(req.Classification); !ok {
		return &ValidationError{
			Field:  "classification",
			Reason: fmt.Sprintf("unknown classification %q, expected one of %s", req.Classification, strings.Join(Classifications(), ", ")),
		}
	}
	if len(req.Images) == 0 {
		return &ValidationError{Field: "images", Reason: "at least one image is required"}
	}
	if len(req.Images) > o.maxImages {
		return &ValidationError{Field: "images", Reason: fmt.Sprintf("at most %d images allowed", o.maxImages)}
	}
	for _, img := range req.Images {
		if img.Filename == "" {
			return &ValidationError{Field: "images", Reason: "image filename is required"}
		}
		if !tagAllowed(req.Classification, img.Tag) {
			tags, _ := AllowedTags(req.Classification)
			return &ValidationError{
				Field:  img.Filename,
				Reason: fmt.Sprintf("type %q is not valid for %s, expected one of %s", img.Tag, req.Classification, strings.Join(tags, ", ")),
			}
		}
	}
	if strings.TrimSpace(req.Description) == "" {
		return &ValidationError{Field: "description", Reason: "description is required"}
	}
	return nil
}

// Converse continues the guided reflection dialogue. On the first dialogue
// turn for a student it seeds the tutor instructions as a hidden turn and
// the fixed greeting as a visible one, so the model and the student both
// start from the same point.
func (o *Orchestrator) Converse(ctx context.Context, studentID, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", &ValidationError{Field: "message", Reason: "message is required"}
	}

	turns, err := o.store.Load(studentID)
	if err != nil {
		return "", err
	}

	if !hasDialogue(turns) {
		intro := []history.Turn{
			{Role: history.RoleUser, Text: prompt.Conversation(), Visible: false, Dialogue: true},
			{Role: history.RoleAssistant, Text: prompt.Greeting, Visible: true, Dialogue: true},
		}
		if err := o.store.Append(studentID, intro...); err != nil {
			return "", err
		}
		turns = append(turns, intro...)
	}

	if err := o.store.Append(studentID, history.Turn{
		Role:     history.RoleUser,
		Text:     message,
		Visible:  true,
		Dialogue: true,
	}); err != nil {
		return "", err
	}

	reply, err := o.provider.Complete(ctx, provider.Request{
		Prompt:  message,
		History: turns,
	})
	if err != nil {
		o.logger.Warn("dialogue turn failed", "student", studentID, "provider", o.provider.Name(), "error", err)
		return "", err
	}

	if err := o.store.Append(studentID, history.Turn{
		Role:     history.RoleAssistant,
		Text:     reply,
		Visible:  true,
		Dialogue: true,
	}); err != nil {
		return "", err
	}
	return reply, nil
}

func hasDialogue(turns []history.Turn) bool {
	for _, t := range turns {
		if t.Dialogue {
			return true
		}
	}
	return false
}

// History returns every persisted turn for a student, oldest first.
func (o *Orchestrator) History(studentID string) ([]history.Turn, error) {
	return o.store.Load(studentID)
}

// State returns the student's last session snapshot, or nil when none exists.
func (o *Orchestrator) State(studentID string) (*history.SessionState, error) {
	return o.store.LoadState(studentID)
}
