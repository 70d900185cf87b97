package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atelislab/atelis/internal/history"
)

const exportConcurrency = 4

// Exporter walks every student record, writes a plain-text transcript per
// student, and stores dialogue metrics in the research database. A corrupted
// record skips that student only.
type Exporter struct {
	Store  *history.Store
	DB     *DB // optional; nil skips metric persistence
	Logger *slog.Logger
}

// Summary reports one export run.
type Summary struct {
	Students int
	Exported int
	Skipped  []string // student IDs with unreadable records
}

// Run exports transcripts for all students into outDir.
func (e *Exporter) Run(ctx context.Context, outDir string) (Summary, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	students, err := e.Store.ListStudents()
	if err != nil {
		return Summary{}, fmt.Errorf("listing students: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating output directory: %w", err)
	}

	var mu sync.Mutex
	summary := Summary{Students: len(students)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for _, id := range students {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			turns, err := e.Store.Load(id)
			if err != nil {
				if errors.Is(err, history.ErrCorrupted) {
					logger.Warn("skipping unreadable student record", "student", id, "error", err)
					mu.Lock()
					summary.Skipped = append(summary.Skipped, id)
					mu.Unlock()
					return nil
				}
				return fmt.Errorf("loading %s: %w", id, err)
			}

			path := filepath.Join(outDir, id+".txt")
			if err := os.WriteFile(path, []byte(Transcript(id, turns)), 0o644); err != nil {
				return fmt.Errorf("writing transcript for %s: %w", id, err)
			}

			if e.DB != nil {
				if err := e.DB.SaveMetrics(Compute(id, turns)); err != nil {
					return err
				}
			}

			mu.Lock()
			summary.Exported++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	sort.Strings(summary.Skipped)
	return summary, nil
}

// Transcript renders the visible tutoring dialogue as labeled plain text.
func Transcript(studentID string, turns []history.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dialogue %s\n", studentID)
	for _, t := range turns {
		if !isDialogueTurn(t) {
			continue
		}
		b.WriteString("\n")
		b.WriteString(roleLabel(t.Role))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func roleLabel(role string) string {
	if role == history.RoleUser {
		return "[STUDENT]"
	}
	return "[AI]"
}
