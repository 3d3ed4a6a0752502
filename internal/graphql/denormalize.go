package graphql

import (
	"context"
	"fmt"
)

// Materialize reconstructs response-shaped data from ROOT_QUERY and the entity
// records, expanding reference pointers (and sequences of them) recursively.
// With no fields given, every ROOT_QUERY field is materialized. Entities that
// reference each other in a cycle are expanded once; the repeated occurrence
// stays a reference pointer. A dangling reference is also left in place rather
// than failing the whole read, since the store is allowed to be partially
// written.
//
// This read path backs store inspection; serving client requests goes through
// the per-operation cache records instead.
func (n *Normalizer) Materialize(ctx context.Context, fields []string) (map[string]any, error) {
	root, err := n.loadObject(ctx, RootQueryKey)
	if err != nil {
		return nil, err
	}

	if fields == nil {
		fields = make([]string, 0, len(root))
		for field := range root {
			fields = append(fields, field)
		}
	}

	out := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := root[field]
		if !ok {
			return nil, fmt.Errorf("field %s is not present in %s", field, RootQueryKey)
		}
		expanded, err := n.expand(ctx, value, map[string]bool{})
		if err != nil {
			return nil, err
		}
		out[field] = expanded
	}
	return out, nil
}

func (n *Normalizer) expand(ctx context.Context, value any, visiting map[string]bool) (any, error) {
	if key, ok := refKey(value); ok {
		if visiting[key] {
			return Ref(key), nil
		}
		return n.expandEntity(ctx, key, visiting)
	}

	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for field, child := range v {
			expanded, err := n.expand(ctx, child, visiting)
			if err != nil {
				return nil, err
			}
			out[field] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			expanded, err := n.expand(ctx, el, visiting)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

func (n *Normalizer) expandEntity(ctx context.Context, key string, visiting map[string]bool) (any, error) {
	fields, err := n.loadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		// Dangling reference; leave the pointer for the caller to see.
		return Ref(key), nil
	}

	visiting[key] = true
	defer delete(visiting, key)

	out := make(map[string]any, len(fields))
	for field, child := range fields {
		expanded, err := n.expand(ctx, child, visiting)
		if err != nil {
			return nil, err
		}
		out[field] = expanded
	}
	return out, nil
}
