// Package template provides sandboxed substitution of context values into node parameters.
//
// The grammar is deliberately small. A template is literal text with
// expressions in double braces:
//
//	{{ path }}
//	{{ helper path }}
//
// A path is an identifier followed by any number of ".field" or ".index"
// segments. Helpers come from a fixed whitelist (see Helpers). There are no
// function calls, pipelines, conditionals or environment lookups.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/nodebase/pkg/models"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var (
	// ErrUnknownVariable is returned when an expression's root is not in the context.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrMissingField is returned when a path segment does not exist below the root.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidExpression is returned for anything outside the expression grammar.
	ErrInvalidExpression = errors.New("invalid template expression")
)

// Reference is a variable lookup found inside a template.
type Reference struct {
	Helper string   `json:"helper,omitempty"`
	Root   string   `json:"root"`
	Path   []string `json:"path,omitempty"`
	Raw    string   `json:"raw"`
}

// ReferenceError reports a failed lookup.
type ReferenceError struct {
	Expr string
	Err  error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%v in {{ %s }}", e.Err, e.Expr)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

type segment struct {
	text string
	ref  *Reference
}

// Template is a parsed template.
type Template struct {
	source   string
	segments []segment
}

// Parse parses source. It fails on unbalanced delimiters or invalid expressions.
func Parse(source string) (*Template, error) {
	tmpl := &Template{source: source}
	rest := source

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			if rest != "" {
				tmpl.segments = append(tmpl.segments, segment{text: rest})
			}

			return tmpl, nil
		}

		if start > 0 {
			tmpl.segments = append(tmpl.segments, segment{text: rest[:start]})
		}

		rest = rest[start+len(openDelim):]

		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed %q", ErrInvalidExpression, openDelim)
		}

		ref, err := parseExpression(rest[:end])
		if err != nil {
			return nil, err
		}

		tmpl.segments = append(tmpl.segments, segment{ref: ref})
		rest = rest[end+len(closeDelim):]
	}
}

// Source returns the unparsed template text.
func (t *Template) Source() string {
	return t.source
}

// References lists every lookup in the template in order of appearance.
func (t *Template) References() []Reference {
	var refs []Reference

	for _, seg := range t.segments {
		if seg.ref != nil {
			refs = append(refs, *seg.ref)
		}
	}

	return refs
}

// Render substitutes every expression with its value from ctx.
func (t *Template) Render(ctx models.Context) (string, error) {
	var out strings.Builder

	for _, seg := range t.segments {
		if seg.ref == nil {
			out.WriteString(seg.text)

			continue
		}

		value, err := lookup(ctx, seg.ref)
		if err != nil {
			return "", err
		}

		rendered, err := applyHelper(seg.ref.Helper, value)
		if err != nil {
			return "", &ReferenceError{Expr: seg.ref.Raw, Err: err}
		}

		out.WriteString(rendered)
	}

	return out.String(), nil
}

// Render parses and renders source in one step.
func Render(source string, ctx models.Context) (string, error) {
	tmpl, err := Parse(source)
	if err != nil {
		return "", err
	}

	return tmpl.Render(ctx)
}

// HasExpressions reports whether source contains at least one expression.
func HasExpressions(source string) bool {
	return strings.Contains(source, openDelim)
}

func parseExpression(raw string) (*Reference, error) {
	fields := strings.Fields(raw)
	expr := strings.Join(fields, " ")

	var helper, path string

	switch len(fields) {
	case 1:
		path = fields[0]
	case 2:
		helper, path = fields[0], fields[1]
		if _, ok := helpers[helper]; !ok {
			return nil, fmt.Errorf("%w: helper %q is not allowed in {{ %s }}", ErrInvalidExpression, helper, expr)
		}
	default:
		return nil, fmt.Errorf("%w: {{ %s }}", ErrInvalidExpression, expr)
	}

	parts := strings.Split(path, ".")
	if !isIdentifier(parts[0]) {
		return nil, fmt.Errorf("%w: {{ %s }}", ErrInvalidExpression, expr)
	}

	for _, part := range parts[1:] {
		if !isIdentifier(part) && !isIndex(part) {
			return nil, fmt.Errorf("%w: {{ %s }}", ErrInvalidExpression, expr)
		}
	}

	return &Reference{Helper: helper, Root: parts[0], Path: parts[1:], Raw: expr}, nil
}

func isIdentifier(s string) bool {
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

func isIndex(s string) bool {
	if s == "" {
		return false
	}

	_, err := strconv.Atoi(s)

	return err == nil && s[0] != '-' && s[0] != '+'
}

func lookup(ctx models.Context, ref *Reference) (any, error) {
	current, ok := ctx[ref.Root]
	if !ok {
		return nil, &ReferenceError{Expr: ref.Raw, Err: fmt.Errorf("%w %q", ErrUnknownVariable, ref.Root)}
	}

	for _, part := range ref.Path {
		next, ok := child(current, part)
		if !ok {
			return nil, &ReferenceError{Expr: ref.Raw, Err: fmt.Errorf("%w %q", ErrMissingField, part)}
		}

		current = next
	}

	return current, nil
}

func child(value any, key string) (any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		v, ok := typed[key]

		return v, ok
	case models.Context:
		v, ok := typed[key]

		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(typed) {
			return nil, false
		}

		return typed[i], true
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}

		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}

		return rv.Index(i).Interface(), true
	default:
		return nil, false
	}
}

// stringify renders a value the way it appears inside text.
func stringify(value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case bool:
		return strconv.FormatBool(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", typed), nil
	case json.Number:
		return typed.String(), nil
	case fmt.Stringer:
		return typed.String(), nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}

	return string(encoded), nil
}
