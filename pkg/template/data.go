package template

import (
	"fmt"

	"github.com/dukex/nodebase/pkg/models"
)

// RenderValue renders every string found in value, descending into maps and slices.
// Non-string leaves are returned unchanged.
func RenderValue(value any, ctx models.Context) (any, error) {
	switch typed := value.(type) {
	case string:
		if !HasExpressions(typed) {
			return typed, nil
		}

		return Render(typed, ctx)
	case map[string]any:
		out := make(map[string]any, len(typed))

		for key, item := range typed {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(typed))

		for i, item := range typed {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// CollectReferences parses every string found in value and returns their references.
func CollectReferences(value any) ([]Reference, error) {
	var refs []Reference

	err := walkStrings(value, func(s string) error {
		if !HasExpressions(s) {
			return nil
		}

		tmpl, err := Parse(s)
		if err != nil {
			return err
		}

		refs = append(refs, tmpl.References()...)

		return nil
	})

	return refs, err
}

func walkStrings(value any, visit func(string) error) error {
	switch typed := value.(type) {
	case string:
		return visit(typed)
	case map[string]any:
		for _, item := range typed {
			if err := walkStrings(item, visit); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range typed {
			if err := walkStrings(item, visit); err != nil {
				return err
			}
		}
	}

	return nil
}
