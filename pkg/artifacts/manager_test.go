package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m := NewManager(root, []string{"docs", "src"}, nil)
	require.NoError(t, m.EnsureTrackedDirs())
	return m, root
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestDetect_NoChangesIsEmpty(t *testing.T) {
	m, root := newTestManager(t)
	write(t, root, "docs/readme.md", "hello")

	before := m.TakeSnapshot()
	after := m.TakeSnapshot()
	assert.Empty(t, Detect(before, after))
}

func TestDetect_CreatedAndModified(t *testing.T) {
	m, root := newTestManager(t)
	write(t, root, "docs/prd.md", "v1")
	before := m.TakeSnapshot()

	write(t, root, "docs/new-story.md", "created")
	// Size change guarantees a different stat tuple even with coarse mtimes.
	write(t, root, "docs/prd.md", "v2 with more text")

	after := m.TakeSnapshot()
	assert.Equal(t, []string{"docs/new-story.md", "docs/prd.md"}, Detect(before, after))
}

func TestTakeSnapshot_IgnoresDenyListedDirs(t *testing.T) {
	m, root := newTestManager(t)
	write(t, root, "docs/node_modules/dep/index.js", "x")
	write(t, root, "docs/keep.md", "x")

	snap := m.TakeSnapshot()
	assert.Contains(t, snap, "docs/keep.md")
	assert.NotContains(t, snap, "docs/node_modules/dep/index.js")
}

func TestTakeSnapshot_RecordsStatTuple(t *testing.T) {
	m, root := newTestManager(t)
	write(t, root, "src/main.go", "package main")

	snap := m.TakeSnapshot()
	stat, ok := snap["src/main.go"]
	require.True(t, ok)
	assert.Equal(t, int64(len("package main")), stat.Size)
	assert.InDelta(t, time.Now().UnixNano(), stat.ModTimeNS, float64(time.Minute.Nanoseconds()))
}

func TestInferType(t *testing.T) {
	tests := []struct {
		path     string
		workflow string
		want     string
	}{
		{"docs/features/mvp/prd.md", "prd", "prd"},
		{"docs/features/mvp/tech-spec.md", "tech-spec", "architecture"},
		{"docs/anything.md", "create-story", "story"},
		{"docs/features/mvp/architecture.md", "unknown-wf", "architecture"},
		{"docs/adr/adr-001.md", "unknown-wf", "adr"},
		{"docs/postmortem-2026.md", "unknown-wf", "postmortem"},
		{"docs/runbook.md", "unknown-wf", "runbook"},
		{"docs/qa/report.md", "unknown-wf", "qa_report"},
		{"docs/epic-1/epic.md", "unknown-wf", "epic"},
		{"src/whatever.go", "unknown-wf", "story"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.path, tt.workflow))
		})
	}
}

func TestRegister_NilStoreIsPassThrough(t *testing.T) {
	m, _ := newTestManager(t)
	paths := []string{"docs/a.md", "docs/b.md"}
	assert.Equal(t, paths, m.Register(context.Background(), paths, "prd", nil, nil, "", 1, "{}"))
}
