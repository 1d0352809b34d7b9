package protocol

import (
	"fmt"
	"strings"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/template"
)

// RequireString returns data[key] as a non-blank string.
func RequireString(nodeID string, data map[string]any, key, label string) (string, error) {
	value, ok := data[key]
	if !ok || value == nil {
		return "", NewConfigurationError(nodeID, key, label+" is required")
	}

	s, ok := value.(string)
	if !ok {
		return "", NewConfigurationError(nodeID, key, fmt.Sprintf("%s must be a string, got %T", label, value))
	}

	if strings.TrimSpace(s) == "" {
		return "", NewConfigurationError(nodeID, key, label+" is required")
	}

	return s, nil
}

// RenderString reads a required string parameter, renders it against ctx and
// checks the rendered value is not blank.
func RenderString(nodeID string, data map[string]any, ctx models.Context, key, label string) (string, error) {
	raw, err := RequireString(nodeID, data, key, label)
	if err != nil {
		return "", err
	}

	rendered, err := Render(nodeID, key, raw, ctx)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(rendered) == "" {
		return "", NewConfigurationError(nodeID, key, label+" is empty after rendering")
	}

	return rendered, nil
}

// Render renders source against ctx. Template errors are configuration errors.
func Render(nodeID, key, source string, ctx models.Context) (string, error) {
	rendered, err := template.Render(source, ctx)
	if err != nil {
		return "", &NonRetriableError{
			NodeID:  nodeID,
			Field:   key,
			Message: "failed to render " + key,
			Err:     err,
		}
	}

	return rendered, nil
}

// OptionalString returns data[key] when it is a string, or def otherwise.
func OptionalString(data map[string]any, key, def string) string {
	if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}

	return def
}

// VariableName returns the node's configured output key.
func VariableName(nodeID string, data map[string]any) (string, error) {
	name, err := RequireString(nodeID, data, "variableName", "Variable name")
	if err != nil {
		return "", err
	}

	if !isVariableName(name) {
		return "", NewConfigurationError(nodeID, "variableName",
			"Variable name must start with a letter or underscore and contain only letters, digits and underscores")
	}

	return name, nil
}

// DeclaredVariable declares data.variableName with the given type, if it is set.
func DeclaredVariable(data map[string]any, valueType string) []models.OutputDeclaration {
	name, ok := data["variableName"].(string)
	if !ok || !isVariableName(name) {
		return nil
	}

	return []models.OutputDeclaration{{Name: name, Type: valueType}}
}

func isVariableName(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}
