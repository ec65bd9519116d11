// Package feature resolves feature names by a fixed priority rule and
// generates the co-located document paths for a feature scope.
package feature

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MVPFeature is the implicit default feature scope.
const MVPFeature = "mvp"

// featuresDocRoot is where feature document trees live, relative to the
// project root.
const featuresDocRoot = "docs/features"

// UnknownFeatureError reports an explicit feature name not present in the
// state store.
type UnknownFeatureError struct {
	Name      string
	Available []string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q; available features: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// AmbiguousFeatureError reports that no resolution priority produced a unique
// feature name.
type AmbiguousFeatureError struct {
	Candidates []string
}

func (e *AmbiguousFeatureError) Error() string {
	return fmt.Sprintf("ambiguous feature: pass feature_name explicitly; candidates: %s",
		strings.Join(e.Candidates, ", "))
}

// Store is the slice of the state store the resolver consults.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	ListNames(ctx context.Context) ([]string, error)
}

// Resolver resolves feature names and feature-scoped paths.
type Resolver struct {
	store       Store
	projectRoot string
	getwd       func() (string, error) // overridable for tests
}

// NewResolver creates a feature resolver rooted at projectRoot.
func NewResolver(store Store, projectRoot string) *Resolver {
	return &Resolver{
		store:       store,
		projectRoot: projectRoot,
		getwd:       os.Getwd,
	}
}

// ResolveFeatureName resolves the feature scope by six priorities, first
// match wins:
//
//  1. explicit feature_name in params (validated against the store)
//  2. feature_name in the workflow context metadata
//  3. working directory inside docs/features/<name>/
//  4. exactly one non-MVP feature registered
//  5. only the MVP feature registered
//  6. fail with *AmbiguousFeatureError
func (r *Resolver) ResolveFeatureName(ctx context.Context, params, metadata map[string]string) (string, error) {
	// Priority 1: explicit caller parameter.
	if name := params["feature_name"]; name != "" {
		ok, err := r.store.Exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to validate feature %q: %w", name, err)
		}
		if !ok {
			available, err := r.store.ListNames(ctx)
			if err != nil {
				return "", fmt.Errorf("failed to list features: %w", err)
			}
			return "", &UnknownFeatureError{Name: name, Available: available}
		}
		return name, nil
	}

	// Priority 2: workflow context metadata.
	if name := metadata["feature_name"]; name != "" {
		return name, nil
	}

	// Priority 3: working directory inside a feature tree.
	if name, ok, err := r.featureFromCwd(ctx); err != nil {
		return "", err
	} else if ok {
		return name, nil
	}

	names, err := r.store.ListNames(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list features: %w", err)
	}

	// Priority 4: exactly one non-MVP feature.
	var nonMVP []string
	hasMVP := false
	for _, n := range names {
		if n == MVPFeature {
			hasMVP = true
			continue
		}
		nonMVP = append(nonMVP, n)
	}
	if len(nonMVP) == 1 {
		return nonMVP[0], nil
	}

	// Priority 5: only the MVP feature.
	if len(nonMVP) == 0 && hasMVP {
		return MVPFeature, nil
	}

	// Priority 6: ambiguous.
	return "", &AmbiguousFeatureError{Candidates: names}
}

// featureFromCwd checks whether the working directory lies inside
// docs/features/<name>/ under the project root and that <name> is registered.
func (r *Resolver) featureFromCwd(ctx context.Context) (string, bool, error) {
	cwd, err := r.getwd()
	if err != nil {
		return "", false, nil
	}
	root := filepath.Join(r.projectRoot, filepath.FromSlash(featuresDocRoot))
	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false, nil
	}
	name := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	ok, err := r.store.Exists(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("failed to validate feature %q: %w", name, err)
	}
	return name, ok, nil
}
