package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

func touch(t *testing.T, root, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("x"), 0o644))
}

func TestValidateArtifacts_NoConfiguredGates(t *testing.T) {
	g := New(t.TempDir(), map[string][]string{}, nil)
	result := g.ValidateArtifacts("dev-story", nil, nil)
	assert.Equal(t, models.GatePassed, result.Status)
	assert.Equal(t, models.ActionContinue, result.Action)
}

func TestValidateArtifacts_AllPresent(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "docs/features/mvp/tech-spec.md")
	g := New(root, nil, nil)

	result := g.ValidateArtifacts("tech-spec",
		map[string]string{"feature_name": "mvp"}, nil)
	assert.Equal(t, models.GatePassed, result.Status)
	assert.Empty(t, result.Missing)
}

func TestValidateArtifacts_PRDFallbackToEpics(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "docs/features/mvp/epics.md")
	g := New(root, nil, nil)

	result := g.ValidateArtifacts("prd",
		map[string]string{"feature_name": "mvp"}, nil)
	assert.Equal(t, models.GateAdapted, result.Status)
	assert.Equal(t, models.ActionAdapt, result.Action)
	assert.Contains(t, result.AdaptationNote, "epics.md")
}

func TestValidateArtifacts_CreateStoryEmptyDirRetries(t *testing.T) {
	root := t.TempDir()
	g := New(root, nil, nil)
	vars := map[string]string{"feature_name": "mvp", "epic": "1"}

	t.Run("missing dir fails with retry", func(t *testing.T) {
		result := g.ValidateArtifacts("create-story", vars, nil)
		assert.Equal(t, models.GateFailed, result.Status)
		assert.Equal(t, models.ActionRetry, result.Action)
	})

	t.Run("empty dir fails with retry", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(
			filepath.Join(root, "docs/features/mvp/epic-1/stories"), 0o755))
		result := g.ValidateArtifacts("create-story", vars, nil)
		assert.Equal(t, models.GateFailed, result.Status)
	})

	t.Run("non-empty dir passes", func(t *testing.T) {
		touch(t, root, "docs/features/mvp/epic-1/stories/story-1.1.md")
		result := g.ValidateArtifacts("create-story", vars, nil)
		assert.Equal(t, models.GatePassed, result.Status)
	})
}

func TestValidateArtifacts_OtherMissesAdapt(t *testing.T) {
	g := New(t.TempDir(), nil, nil)
	result := g.ValidateArtifacts("architecture",
		map[string]string{"feature_name": "mvp"}, nil)
	assert.Equal(t, models.GateAdapted, result.Status)
	assert.Equal(t, models.ActionAdapt, result.Action)
	assert.Len(t, result.Missing, 1)
}

func TestValidateArtifacts_OverridesReplaceConfig(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "README.md")
	g := New(root, nil, nil)

	result := g.ValidateArtifacts("tech-spec", nil, []string{"README.md"})
	assert.Equal(t, models.GatePassed, result.Status)
}

func TestValidateArtifacts_PublishesEvents(t *testing.T) {
	b := bus.New()
	var published []string
	for _, typ := range []string{
		events.TypeQualityGateStarted,
		events.TypeQualityGatePassed,
		events.TypeQualityGateFailed,
	} {
		typ := typ
		b.Subscribe(typ, func(evt events.Event) {
			published = append(published, evt.Type)
		})
	}

	root := t.TempDir()
	g := New(root, nil, b)
	g.ValidateArtifacts("create-story",
		map[string]string{"feature_name": "mvp", "epic": "1"}, nil)

	assert.Equal(t, []string{
		events.TypeQualityGateStarted,
		events.TypeQualityGateFailed,
	}, published)
}
