package graphql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// OperationKind is the kind of the root operation definition.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// Metadata is derived purely from an operation's text.
type Metadata struct {
	Kind OperationKind
	// TopLevelFields are the field names of the root selection set, in
	// document order. Nested selections are not flattened into this list.
	TopLevelFields []string
}

// Classify parses operation text and inspects its root. Documents with
// multiple operation definitions are not supported; the first one wins.
func Classify(text string) (*Metadata, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: text})
	if err != nil {
		return nil, fmt.Errorf("parsing operation: %v: %w", err, ErrInvalidOperation)
	}
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("document has no operation definition: %w", ErrInvalidOperation)
	}

	op := doc.Operations[0]
	meta := &Metadata{Kind: OperationKind(op.Operation)}
	for _, sel := range op.SelectionSet {
		if field, ok := sel.(*ast.Field); ok {
			meta.TopLevelFields = append(meta.TopLevelFields, field.Name)
		}
	}
	return meta, nil
}
