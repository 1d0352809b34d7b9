package template

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

type helperFunc func(value any) (string, error)

var helpers = map[string]helperFunc{
	"json": func(value any) (string, error) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("json: %w", err)
		}

		return string(encoded), nil
	},
	"upper":    stringHelper(strings.ToUpper),
	"lower":    stringHelper(strings.ToLower),
	"trim":     stringHelper(strings.TrimSpace),
	"urlquery": stringHelper(url.QueryEscape),
}

func stringHelper(fn func(string) string) helperFunc {
	return func(value any) (string, error) {
		s, err := stringify(value)
		if err != nil {
			return "", err
		}

		return fn(s), nil
	}
}

func applyHelper(name string, value any) (string, error) {
	if name == "" {
		return stringify(value)
	}

	return helpers[name](value)
}

// Helpers returns the names of the allowed helpers.
func Helpers() []string {
	names := make([]string, 0, len(helpers))
	for name := range helpers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
