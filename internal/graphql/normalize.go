package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/uitie/loql/internal/store"
)

// RootQueryKey is the well-known record mapping top-level query field names to
// entity references. Writes to it are additive merges, never a full replace.
const RootQueryKey = "ROOT_QUERY"

// refField marks a reference pointer standing in for a normalized entity.
const refField = "__ref"

// EntityIdentifier decides whether an object is an extractable entity.
// Implementations can be heuristic or schema-aware.
type EntityIdentifier interface {
	// Identify returns the composite key for obj, or ok=false when obj is not
	// entity-shaped and must stay inlined in its parent.
	Identify(obj map[string]any) (key string, ok bool)
}

// TypenameIdentifier identifies entities by a __typename field plus an id
// (falling back to _id). This is the default heuristic.
type TypenameIdentifier struct{}

func (TypenameIdentifier) Identify(obj map[string]any) (string, bool) {
	typename, ok := obj["__typename"].(string)
	if !ok || typename == "" {
		return "", false
	}
	for _, field := range []string{"id", "_id"} {
		switch id := obj[field].(type) {
		case string:
			if id != "" {
				return typename + ":" + id, true
			}
		case float64:
			return typename + ":" + strconv.FormatFloat(id, 'f', -1, 64), true
		}
	}
	return "", false
}

// Ref builds a reference pointer value for an entity key.
func Ref(key string) map[string]any {
	return map[string]any{refField: key}
}

// refKey unwraps a reference pointer, if value is one.
func refKey(value any) (string, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	key, ok := obj[refField].(string)
	return key, ok && key != ""
}

// Entity is one flattened object keyed by its composite identity.
type Entity struct {
	Key    string
	Fields map[string]any
}

// Normalized is the flattened form of one response: the extracted entities in
// discovery order plus the patch to merge into ROOT_QUERY.
type Normalized struct {
	Entities  []Entity
	RootPatch map[string]any
}

// Normalizer flattens GraphQL response data into entity-keyed records and
// merges them into the object store.
type Normalizer struct {
	st       store.Store
	identify EntityIdentifier
	logger   *slog.Logger
}

// NewNormalizer creates a normalizer over st. A nil identifier defaults to
// the __typename+id heuristic.
func NewNormalizer(st store.Store, identify EntityIdentifier, logger *slog.Logger) *Normalizer {
	if identify == nil {
		identify = TypenameIdentifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{st: st, identify: identify, logger: logger}
}

// Normalize recursively flattens the data object of a GraphQL response.
// Entity-shaped objects are extracted and replaced by reference pointers;
// objects without an identity stay inlined; sequences are walked element-wise;
// scalars pass through unchanged.
func (n *Normalizer) Normalize(data map[string]any) *Normalized {
	out := &Normalized{RootPatch: make(map[string]any, len(data))}
	for field, value := range data {
		out.RootPatch[field] = n.walk(value, out)
	}
	return out
}

func (n *Normalizer) walk(value any, out *Normalized) any {
	switch v := value.(type) {
	case map[string]any:
		flat := make(map[string]any, len(v))
		for field, child := range v {
			flat[field] = n.walk(child, out)
		}
		if key, ok := n.identify.Identify(v); ok {
			out.Entities = append(out.Entities, Entity{Key: key, Fields: flat})
			return Ref(key)
		}
		return flat
	case []any:
		seq := make([]any, len(v))
		for i, el := range v {
			seq[i] = n.walk(el, out)
		}
		return seq
	default:
		return v
	}
}

// Merge shallow-merges the normalized entities and the root-query patch into
// the queries collection. Per entity, new field values win and fields absent
// from the new write survive from the stored value. The merge is not atomic
// across entities; a crash mid-merge leaves a partially updated store.
func (n *Normalizer) Merge(ctx context.Context, norm *Normalized) error {
	// Stage merges per key so one response touching the same entity twice
	// folds into a single write.
	staged := make(map[string]map[string]any)
	order := make([]string, 0, len(norm.Entities)+1)

	for _, ent := range norm.Entities {
		base, ok := staged[ent.Key]
		if !ok {
			stored, err := n.loadObject(ctx, ent.Key)
			if err != nil {
				return err
			}
			base = stored
			order = append(order, ent.Key)
		}
		staged[ent.Key] = mergeShallow(base, ent.Fields)
	}

	if len(norm.RootPatch) > 0 {
		root, err := n.loadObject(ctx, RootQueryKey)
		if err != nil {
			return err
		}
		staged[RootQueryKey] = mergeShallow(root, norm.RootPatch)
		order = append(order, RootQueryKey)
	}

	pairs := make([]store.Pair, 0, len(order))
	for _, key := range order {
		data, err := json.Marshal(staged[key])
		if err != nil {
			return fmt.Errorf("encoding entity %s: %w", key, err)
		}
		pairs = append(pairs, store.Pair{Key: key, Value: data})
	}

	if err := n.st.SetMany(ctx, store.CollectionQueries, pairs); err != nil {
		return fmt.Errorf("merging %d entities: %w", len(pairs), err)
	}

	n.logger.Debug("merged normalized response",
		"entities", len(norm.Entities),
		"root_fields", len(norm.RootPatch),
	)
	return nil
}

// loadObject reads a stored entity object; an absent key yields an empty map.
func (n *Normalizer) loadObject(ctx context.Context, key string) (map[string]any, error) {
	data, ok, err := n.st.Get(ctx, store.CollectionQueries, key)
	if err != nil {
		return nil, fmt.Errorf("reading entity %s: %w", key, err)
	}
	if !ok {
		return map[string]any{}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding entity %s: %w", key, err)
	}
	return obj, nil
}

// mergeShallow overlays incoming onto base, field by field. Nested values are
// replaced, not deep-merged.
func mergeShallow(base, incoming map[string]any) map[string]any {
	for field, value := range incoming {
		base[field] = value
	}
	return base
}
