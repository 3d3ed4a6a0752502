package graphql

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/uitie/loql/internal/store"
)

func decodeData(t *testing.T, raw string) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatal(err)
	}
	return data
}

func storedObject(t *testing.T, st store.Store, key string) map[string]any {
	t.Helper()
	data, ok, err := st.Get(context.Background(), store.CollectionQueries, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("no stored object at %s", key)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}
	return obj
}

func TestNormalizeExtractsEntities(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), nil, nil)

	norm := n.Normalize(decodeData(t, `{
		"user": {
			"__typename": "User", "id": "1", "name": "Ada",
			"bestFriend": {"__typename": "User", "id": "2", "name": "Grace"}
		}
	}`))

	if len(norm.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(norm.Entities))
	}

	// Children are discovered before their parent.
	if norm.Entities[0].Key != "User:2" || norm.Entities[1].Key != "User:1" {
		t.Errorf("unexpected entity order: %s, %s", norm.Entities[0].Key, norm.Entities[1].Key)
	}

	// The nested entity is replaced by a reference in its parent.
	if !reflect.DeepEqual(norm.Entities[1].Fields["bestFriend"], Ref("User:2")) {
		t.Errorf("expected reference, got %v", norm.Entities[1].Fields["bestFriend"])
	}

	// The root patch points at the outer entity.
	if !reflect.DeepEqual(norm.RootPatch["user"], Ref("User:1")) {
		t.Errorf("expected root reference, got %v", norm.RootPatch["user"])
	}
}

func TestNormalizeSequences(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), nil, nil)

	norm := n.Normalize(decodeData(t, `{
		"posts": [
			{"__typename": "Post", "id": "1", "title": "first"},
			{"__typename": "Post", "id": "2", "title": "second"}
		]
	}`))

	refs, ok := norm.RootPatch["posts"].([]any)
	if !ok || len(refs) != 2 {
		t.Fatalf("expected sequence of references, got %v", norm.RootPatch["posts"])
	}
	if !reflect.DeepEqual(refs[0], Ref("Post:1")) || !reflect.DeepEqual(refs[1], Ref("Post:2")) {
		t.Errorf("unexpected references: %v", refs)
	}
}

func TestNormalizeInlinesUnidentifiedObjects(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), nil, nil)

	norm := n.Normalize(decodeData(t, `{
		"stats": {"total": 3, "breakdown": {"a": 1}},
		"count": 7
	}`))

	if len(norm.Entities) != 0 {
		t.Fatalf("expected no entities, got %d", len(norm.Entities))
	}
	stats, ok := norm.RootPatch["stats"].(map[string]any)
	if !ok || stats["total"] != float64(3) {
		t.Errorf("object without identity should stay inlined: %v", norm.RootPatch["stats"])
	}
	if norm.RootPatch["count"] != float64(7) {
		t.Errorf("scalars must pass through: %v", norm.RootPatch["count"])
	}
}

func TestTypenameIdentifier(t *testing.T) {
	id := TypenameIdentifier{}

	tests := []struct {
		name string
		obj  map[string]any
		want string
		ok   bool
	}{
		{"string id", map[string]any{"__typename": "User", "id": "1"}, "User:1", true},
		{"numeric id", map[string]any{"__typename": "User", "id": float64(42)}, "User:42", true},
		{"underscore id", map[string]any{"__typename": "Doc", "_id": "a1"}, "Doc:a1", true},
		{"no typename", map[string]any{"id": "1"}, "", false},
		{"no id", map[string]any{"__typename": "User", "name": "Ada"}, "", false},
		{"empty id", map[string]any{"__typename": "User", "id": ""}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := id.Identify(tt.obj)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Identify = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMergePreservesAbsentFields(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := NewNormalizer(st, nil, nil)

	first := n.Normalize(decodeData(t, `{"user": {"__typename": "User", "id": "1", "name": "Ada", "email": "ada@example.com"}}`))
	if err := n.Merge(ctx, first); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	// A later write without the email field must not erase it.
	second := n.Normalize(decodeData(t, `{"user": {"__typename": "User", "id": "1", "name": "Ada Lovelace"}}`))
	if err := n.Merge(ctx, second); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	user := storedObject(t, st, "User:1")
	if user["name"] != "Ada Lovelace" {
		t.Errorf("new value should win: %v", user["name"])
	}
	if user["email"] != "ada@example.com" {
		t.Errorf("absent field should survive: %v", user["email"])
	}
}

func TestMergeRootQueryAdditive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := NewNormalizer(st, nil, nil)

	if err := n.Merge(ctx, n.Normalize(decodeData(t,
		`{"user": {"__typename": "User", "id": "1", "name": "Ada"}}`))); err != nil {
		t.Fatal(err)
	}
	if err := n.Merge(ctx, n.Normalize(decodeData(t,
		`{"posts": [{"__typename": "Post", "id": "1", "title": "first"}]}`))); err != nil {
		t.Fatal(err)
	}

	root := storedObject(t, st, RootQueryKey)
	if !reflect.DeepEqual(root["user"], Ref("User:1")) {
		t.Errorf("earlier root field should survive: %v", root["user"])
	}
	posts, ok := root["posts"].([]any)
	if !ok || !reflect.DeepEqual(posts[0], Ref("Post:1")) {
		t.Errorf("new root field should be added: %v", root["posts"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	ctx := context.Background()
	raw := `{
		"user": {"__typename": "User", "id": "1", "name": "Ada",
			"posts": [{"__typename": "Post", "id": "9", "title": "t"}]}
	}`

	once := store.NewMemory()
	n1 := NewNormalizer(once, nil, nil)
	if err := n1.Merge(ctx, n1.Normalize(decodeData(t, raw))); err != nil {
		t.Fatal(err)
	}

	twice := store.NewMemory()
	n2 := NewNormalizer(twice, nil, nil)
	for i := 0; i < 2; i++ {
		if err := n2.Merge(ctx, n2.Normalize(decodeData(t, raw))); err != nil {
			t.Fatal(err)
		}
	}

	for _, key := range []string{"User:1", "Post:9", RootQueryKey} {
		if !reflect.DeepEqual(storedObject(t, once, key), storedObject(t, twice, key)) {
			t.Errorf("double merge diverged from single merge at %s", key)
		}
	}
}

func TestMaterializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	n := NewNormalizer(st, nil, nil)

	data := decodeData(t, `{
		"user": {
			"__typename": "User", "id": "1", "name": "Ada",
			"posts": [{"__typename": "Post", "id": "9", "title": "t", "meta": {"views": 2}}]
		},
		"version": "v1"
	}`)
	if err := n.Merge(ctx, n.Normalize(data)); err != nil {
		t.Fatal(err)
	}

	got, err := n.Materialize(ctx, nil)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !reflect.DeepEqual(got, data) {
		t.Errorf("materialized data diverged:\n got %v\nwant %v", got, data)
	}
}

func TestMaterializeSelectedFields(t *testing.T) {
	ctx := context.Background()
	n := NewNormalizer(store.NewMemory(), nil, nil)

	if err := n.Merge(ctx, n.Normalize(decodeData(t, `{
		"user": {"__typename": "User", "id": "1", "name": "Ada"},
		"version": "v1"
	}`))); err != nil {
		t.Fatal(err)
	}

	got, err := n.Materialize(ctx, []string{"version"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(got) != 1 || got["version"] != "v1" {
		t.Errorf("unexpected materialization: %v", got)
	}

	if _, err := n.Materialize(ctx, []string{"unknown"}); err == nil {
		t.Error("expected error for a field never written")
	}
}

func TestMaterializeCycles(t *testing.T) {
	ctx := context.Background()
	n := NewNormalizer(store.NewMemory(), nil, nil)

	// Two users referencing each other.
	if err := n.Merge(ctx, n.Normalize(decodeData(t, `{
		"user": {
			"__typename": "User", "id": "1", "name": "Ada",
			"bestFriend": {
				"__typename": "User", "id": "2", "name": "Grace",
				"bestFriend": {"__typename": "User", "id": "1"}
			}
		}
	}`))); err != nil {
		t.Fatal(err)
	}

	got, err := n.Materialize(ctx, []string{"user"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	user := got["user"].(map[string]any)
	friend := user["bestFriend"].(map[string]any)
	// The cycle back to User:1 stays a reference pointer.
	if !reflect.DeepEqual(friend["bestFriend"], Ref("User:1")) {
		t.Errorf("expected cycle to stay a reference, got %v", friend["bestFriend"])
	}
}

// stringIdentifier treats any object with a "slug" as an entity, proving the
// identification capability is pluggable.
type slugIdentifier struct{}

func (slugIdentifier) Identify(obj map[string]any) (string, bool) {
	slug, ok := obj["slug"].(string)
	if !ok || slug == "" {
		return "", false
	}
	return "Slug:" + slug, true
}

func TestCustomIdentifier(t *testing.T) {
	n := NewNormalizer(store.NewMemory(), slugIdentifier{}, nil)

	norm := n.Normalize(decodeData(t, `{"page": {"slug": "home", "title": "Home"}}`))
	if len(norm.Entities) != 1 || norm.Entities[0].Key != "Slug:home" {
		t.Fatalf("custom identifier not honored: %+v", norm.Entities)
	}
}
