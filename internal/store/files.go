package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/pkg/schema"
)

// DiskFiles is a step-scoped file store backed by a local directory.
// Files written by a step live under <dir>/<flowRunID>/<stepName>/.
type DiskFiles struct {
	dir       string
	flowRunID string
	stepName  string
}

// NewDiskFiles creates a file store view scoped to one step of one flow run.
func NewDiskFiles(dir, flowRunID, stepName string) *DiskFiles {
	return &DiskFiles{dir: dir, flowRunID: flowRunID, stepName: stepName}
}

func (f *DiskFiles) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid file name %q", name)
	}
	stepDir := filepath.Join(f.dir, f.flowRunID, f.stepName)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "create file dir: %s", err.Error()).WithCause(err)
	}
	path := filepath.Join(stepDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "write file %s: %s", name, err.Error()).WithCause(err)
	}
	return "file://" + path, nil
}

func (f *DiskFiles) Read(ctx context.Context, ref string) ([]byte, error) {
	path := strings.TrimPrefix(ref, "file://")
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid file ref %q", ref).WithCause(err)
	}
	root, err := filepath.Abs(f.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve file root: %s", err.Error()).WithCause(err)
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "file ref %q escapes the store", ref)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read file %s: %s", ref, err.Error()).WithCause(err)
	}
	return data, nil
}

var _ pieces.FileStore = (*DiskFiles)(nil)
