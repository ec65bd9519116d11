package workflow

import (
	"context"
	"fmt"
	"time"
)

// MissingRequiredError reports a required variable left unbound after all
// resolution layers were applied.
type MissingRequiredError struct {
	Var string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("required variable %q is not bound", e.Var)
}

// FeatureScope resolves the feature name for feature-scoped workflows and
// generates the co-located document path family. Implemented by the feature
// path resolver.
type FeatureScope interface {
	ResolveFeatureName(ctx context.Context, params, metadata map[string]string) (string, error)
	GeneratePaths(feature string, vars map[string]string) (map[string]string, error)
}

// Resolver binds workflow variables with layered precedence, lowest to
// highest:
//
//  1. process-wide defaults (date, timestamp)
//  2. system config defaults
//  3. user config overrides
//  4. workflow-declared defaults
//  5. caller parameters
//  6. feature-name resolution (feature-scoped workflows only)
type Resolver struct {
	systemDefaults map[string]string
	userOverrides  map[string]string
	scope          FeatureScope
	now            func() time.Time // overridable for tests
}

// NewResolver creates a variable resolver. scope may be nil when no workflow
// is feature-scoped.
func NewResolver(systemDefaults, userOverrides map[string]string, scope FeatureScope) *Resolver {
	return &Resolver{
		systemDefaults: systemDefaults,
		userOverrides:  userOverrides,
		scope:          scope,
		now:            time.Now,
	}
}

// Resolve binds all variables for def. metadata is the workflow context's
// metadata map, consulted by feature-name resolution. Required variables left
// unbound fail with *MissingRequiredError.
func (r *Resolver) Resolve(ctx context.Context, def *Definition, params, metadata map[string]string) (map[string]string, error) {
	now := r.now().UTC()
	vars := map[string]string{
		"date":      now.Format("2006-01-02"),
		"timestamp": now.Format(time.RFC3339),
	}
	for k, v := range r.systemDefaults {
		vars[k] = v
	}
	for k, v := range r.userOverrides {
		vars[k] = v
	}
	for name, decl := range def.Variables {
		if decl.Default != "" {
			vars[name] = decl.Default
		}
	}
	for k, v := range params {
		vars[k] = v
	}

	if def.RequiresScope && r.scope != nil {
		feature, err := r.scope.ResolveFeatureName(ctx, params, metadata)
		if err != nil {
			return nil, err
		}
		vars["feature_name"] = feature

		paths, err := r.scope.GeneratePaths(feature, vars)
		if err != nil {
			return nil, err
		}
		for k, v := range paths {
			vars[k] = v
		}
	}

	for name, decl := range def.Variables {
		if decl.Required && vars[name] == "" {
			return nil, &MissingRequiredError{Var: name}
		}
	}
	return vars, nil
}
