package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/nodebase/pkg/graph"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/dukex/nodebase/pkg/template"
	"github.com/xeipuuv/gojsonschema"
)

// validateNodeData checks node.Data against the JSON schema of its executor.
func validateNodeData(executor protocol.Executor, node *models.Node) error {
	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(executor.Schema()),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return NewValidationError("Check", "INVALID_NODE_DATA",
			fmt.Sprintf("node %s: %v", node.ID, err), ErrInvalidNodeData)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return NewValidationError("Check", "INVALID_NODE_DATA",
		fmt.Sprintf("node %s: %s", node.ID, strings.Join(problems, "; ")), ErrInvalidNodeData)
}

// checkReferences rejects templates whose root variable is not written by an
// ancestor of the node holding them.
func checkReferences(workflow *models.Workflow, schema *graph.Schema) error {
	for _, node := range workflow.Nodes {
		refs, err := template.CollectReferences(node.Data)
		if err != nil {
			return NewValidationError("Check", "INVALID_TEMPLATE",
				fmt.Sprintf("node %s: %v", node.ID, err), errors.Join(ErrInvalidNodeData, err))
		}

		for _, ref := range refs {
			if schema.Visible(node.ID, ref.Root) {
				continue
			}

			message := fmt.Sprintf("node %s references %q in {{ %s }}, which no upstream node writes", node.ID, ref.Root, ref.Raw)
			if producer, ok := schema.Producer(ref.Root); ok {
				message = fmt.Sprintf("node %s references %q in {{ %s }}, but node %s that writes it does not run before it",
					node.ID, ref.Root, ref.Raw, producer)
			}

			return NewValidationError("Check", "UNKNOWN_VARIABLE", message,
				fmt.Errorf("%w: %w", ErrUnknownVariable, template.ErrUnknownVariable))
		}
	}

	return nil
}
