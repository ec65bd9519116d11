package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "Create {{feature_name}} for epic {{epic}}",
			vars:     map[string]string{"feature_name": "payments", "epic": "3"},
			want:     "Create payments for epic 3",
		},
		{
			name:     "unresolved placeholder passes through",
			template: "path: {{unknown}}",
			vars:     map[string]string{"feature_name": "x"},
			want:     "path: {{unknown}}",
		},
		{
			name:     "backslashes in values survive",
			template: "save to {{output}}",
			vars:     map[string]string{"output": `C:\docs\prd.md`},
			want:     `save to C:\docs\prd.md`,
		},
		{
			name:     "value containing a placeholder is not re-expanded",
			template: "{{a}}",
			vars:     map[string]string{"a": "{{b}}", "b": "nope"},
			want:     "{{b}}",
		},
		{
			name:     "no vars",
			template: "static",
			vars:     nil,
			want:     "static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.template, tt.vars))
		})
	}
}

func TestHasUnresolved(t *testing.T) {
	assert.True(t, HasUnresolved("left {{over}}"))
	assert.False(t, HasUnresolved("clean"))
	assert.False(t, HasUnresolved("dangling {{ only"))
}

func TestResolver_PrecedenceLowestToHighest(t *testing.T) {
	def := &Definition{
		Name: "tech-spec",
		Variables: map[string]Variable{
			"doc_root": {Default: "workflow-default"},
		},
	}

	r := NewResolver(
		map[string]string{"doc_root": "system", "sys_only": "sys"},
		map[string]string{"doc_root": "user"},
		nil,
	)

	t.Run("workflow default beats user override", func(t *testing.T) {
		vars, err := r.Resolve(context.Background(), def, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "workflow-default", vars["doc_root"])
		assert.Equal(t, "sys", vars["sys_only"])
	})

	t.Run("caller params beat workflow defaults", func(t *testing.T) {
		vars, err := r.Resolve(context.Background(), def,
			map[string]string{"doc_root": "caller"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "caller", vars["doc_root"])
	})

	t.Run("process defaults are bound", func(t *testing.T) {
		fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		r := NewResolver(nil, nil, nil)
		r.now = func() time.Time { return fixed }

		vars, err := r.Resolve(context.Background(), &Definition{Name: "x"}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-14", vars["date"])
		assert.Equal(t, "2026-03-14T09:26:53Z", vars["timestamp"])
	})
}

func TestResolver_MissingRequired(t *testing.T) {
	def := &Definition{
		Name: "create-story",
		Variables: map[string]Variable{
			"epic": {Required: true},
		},
	}
	r := NewResolver(nil, nil, nil)

	_, err := r.Resolve(context.Background(), def, nil, nil)
	var missing *MissingRequiredError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "epic", missing.Var)

	vars, err := r.Resolve(context.Background(), def, map[string]string{"epic": "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", vars["epic"])
}

type fakeScope struct {
	feature string
	paths   map[string]string
}

func (f *fakeScope) ResolveFeatureName(_ context.Context, _, _ map[string]string) (string, error) {
	return f.feature, nil
}

func (f *fakeScope) GeneratePaths(_ string, _ map[string]string) (map[string]string, error) {
	return f.paths, nil
}

func TestResolver_FeatureScopeIsHighestLayer(t *testing.T) {
	def := &Definition{Name: "prd", RequiresScope: true}
	scope := &fakeScope{
		feature: "payments",
		paths:   map[string]string{"prd": "docs/features/payments/prd.md"},
	}
	r := NewResolver(nil, nil, scope)

	vars, err := r.Resolve(context.Background(), def,
		map[string]string{"feature_name": "ignored-by-layer-6"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "payments", vars["feature_name"])
	assert.Equal(t, "docs/features/payments/prd.md", vars["prd"])
}

func TestResolver_DefaultsRenderClean(t *testing.T) {
	// A template using exactly the declared defaults renders with no
	// unresolved placeholders.
	def := &Definition{
		Name: "tech-spec",
		Variables: map[string]Variable{
			"doc_root": {Default: "docs"},
			"owner":    {Default: "dev"},
		},
	}
	r := NewResolver(nil, nil, nil)
	vars, err := r.Resolve(context.Background(), def, nil, nil)
	require.NoError(t, err)

	rendered := RenderTemplate("{{doc_root}} by {{owner}} on {{date}}", vars)
	assert.False(t, HasUnresolved(rendered))
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	writeDef := func(name, body string) {
		wfDir := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(wfDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(wfDir, "workflow.yaml"), []byte(body), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(wfDir, "instructions.md"),
			[]byte("Do {{feature_name}}"), 0o644))
	}

	writeDef("tech-spec", `
name: tech-spec
description: Write the technical specification
phase: 2
requires_feature_scope: true
variables:
  feature_name:
    required: true
`)
	writeDef("dev-story", `
description: Implement a story
phase: 4
`)
	// A directory without workflow.yaml is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-workflow"), 0o755))

	reg, err := LoadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-story", "tech-spec"}, reg.Names())

	def, err := reg.Get("tech-spec")
	require.NoError(t, err)
	assert.Equal(t, 2, def.Phase)
	assert.True(t, def.RequiresScope)
	assert.True(t, def.Variables["feature_name"].Required)
	assert.FileExists(t, def.InstructionsPath())

	// Name falls back to the directory name.
	def, err = reg.Get("dev-story")
	require.NoError(t, err)
	assert.Equal(t, "dev-story", def.Name)

	_, err = reg.Get("ghost")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}
