// Package artifacts tracks files produced by workflow steps: filesystem
// snapshots before and after a step, diffing, type inference, and
// registration in the state store.
package artifacts

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
)

// DefaultTrackedDirs are the top-level directories walked by snapshots.
var DefaultTrackedDirs = []string{"docs", "src", "pkg"}

// ignoredDirs are never descended into.
var ignoredDirs = map[string]bool{
	".git":         true,
	".gao-dev":     true,
	".venv":        true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".cache":       true,
	".idea":        true,
}

// FileStat identifies one version of a file. A path appears in a diff when
// its stat tuple changed, which covers both creation and modification.
type FileStat struct {
	ModTimeNS int64
	Size      int64
}

// Snapshot is the state of all tracked files at one point in time.
type Snapshot map[string]FileStat

// Manager snapshots tracked directories and registers detected artifacts.
type Manager struct {
	projectRoot string
	trackedDirs []string
	store       *services.ArtifactService
}

// NewManager creates an artifact manager. trackedDirs may be nil to use
// DefaultTrackedDirs; store may be nil to disable registration.
func NewManager(projectRoot string, trackedDirs []string, store *services.ArtifactService) *Manager {
	if trackedDirs == nil {
		trackedDirs = DefaultTrackedDirs
	}
	return &Manager{projectRoot: projectRoot, trackedDirs: trackedDirs, store: store}
}

// TakeSnapshot walks the tracked directories and records every file's stat
// tuple, keyed by path relative to the project root (slash-separated).
func (m *Manager) TakeSnapshot() Snapshot {
	snap := make(Snapshot)
	for _, dir := range m.trackedDirs {
		root := filepath.Join(m.projectRoot, dir)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				if ignoredDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(m.projectRoot, path)
			if err != nil {
				return nil
			}
			snap[filepath.ToSlash(rel)] = FileStat{
				ModTimeNS: info.ModTime().UnixNano(),
				Size:      info.Size(),
			}
			return nil
		})
	}
	return snap
}

// Detect returns the paths whose stat tuple is in after but not in before,
// sorted lexically. Covers created and modified files.
func Detect(before, after Snapshot) []string {
	var out []string
	for path, stat := range after {
		if prev, ok := before[path]; !ok || prev != stat {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// workflowTypes maps workflow names to artifact types; consulted before the
// path heuristics.
var workflowTypes = map[string]string{
	"prd":          "prd",
	"architecture": "architecture",
	"tech-spec":    "architecture",
	"create-story": "story",
	"dev-story":    "story",
}

// pathTypes are path substring heuristics, checked in order.
var pathTypes = []struct {
	substr string
	typ    string
}{
	{"prd", "prd"},
	{"architecture", "architecture"},
	{"adr", "adr"},
	{"postmortem", "postmortem"},
	{"runbook", "runbook"},
	{"qa", "qa_report"},
	{"test-report", "test_report"},
	{"epic", "epic"},
	{"story", "story"},
}

// InferType maps a path and the workflow that produced it to an artifact
// type. Workflow name wins over path heuristics; the default is story.
func InferType(path, workflowName string) string {
	if t, ok := workflowTypes[workflowName]; ok {
		return t
	}
	lower := strings.ToLower(path)
	for _, rule := range pathTypes {
		if strings.Contains(lower, rule.substr) {
			return rule.typ
		}
	}
	return "story"
}

// Register stores metadata for detected artifacts. Registration failures are
// logged, never returned: losing artifact metadata must not fail a workflow.
func (m *Manager) Register(ctx context.Context, paths []string, workflowName string, epicNum, storyNum *int, agent string, phase int, variables string) []string {
	if m.store == nil {
		return paths
	}
	for _, path := range paths {
		err := m.store.Register(ctx, models.Artifact{
			Path:         path,
			Type:         InferType(path, workflowName),
			WorkflowName: workflowName,
			EpicNum:      epicNum,
			StoryNum:     storyNum,
			Agent:        agent,
			Phase:        phase,
			Variables:    variables,
		})
		if err != nil {
			slog.Warn("Failed to register artifact",
				"path", path, "workflow", workflowName, "error", err)
		}
	}
	return paths
}

// EnsureTrackedDirs creates the tracked directories if absent so snapshots
// have something to walk on a fresh project.
func (m *Manager) EnsureTrackedDirs() error {
	for _, dir := range m.trackedDirs {
		if err := os.MkdirAll(filepath.Join(m.projectRoot, dir), 0o755); err != nil {
			return err
		}
	}
	return nil
}
