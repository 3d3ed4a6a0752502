package graphql

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DeriveKey hashes operation text and variables into a deterministic cache
// key. Variables are serialized with encoding/json, which emits map keys in
// sorted order at every nesting level, so two semantically equal variable maps
// always produce the same key regardless of construction order.
func DeriveKey(text string, variables map[string]any) string {
	h := sha256.New()
	h.Write([]byte(text))
	if len(variables) > 0 {
		// Marshal of a map built from decoded JSON cannot fail.
		serialized, _ := json.Marshal(variables)
		h.Write([]byte{'|'})
		h.Write(serialized)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
