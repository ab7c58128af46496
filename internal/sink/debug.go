package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

// FileDebugSink writes one {data, original} document per debug job.
type FileDebugSink struct {
	dir string
	now func() time.Time
}

type debugRecord struct {
	Data     models.JobResult  `json:"data"`
	Original []json.RawMessage `json:"original"`
}

func NewFileDebugSink(dir string) *FileDebugSink {
	return &FileDebugSink{dir: dir, now: time.Now}
}

func (d *FileDebugSink) SaveDebug(_ context.Context, result models.JobResult, original []json.RawMessage) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	if original == nil {
		original = []json.RawMessage{}
	}

	body, err := json.MarshalIndent(debugRecord{Data: result.Normalize(), Original: original}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode debug record: %w", err)
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(d.now().UTC().Format(time.RFC3339Nano))
	path := filepath.Join(d.dir, fmt.Sprintf("%s-%s.json", safeName(result.JobID), stamp))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write debug record: %w", err)
	}
	slog.Info("debug data written", "job_id", result.JobID, "path", path)
	return nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}
