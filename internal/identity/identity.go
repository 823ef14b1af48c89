// Package identity derives stable external-resource identifiers. An id is a
// pure function of the resource name plus a caller-supplied freshness token,
// so retries that pass the same token converge on the same id instead of
// allocating duplicates.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// New derives an id of the form "<prefix>-<slug(name)>-<token>". The token
// must come from NewToken (or an equivalent value the caller persisted), not
// be generated inside the provider, so the same logical create attempt always
// maps to the same id.
func New(prefix, name, token string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, Slug(name), token)
}

// NewToken returns a fresh random token. Callers are expected to log or
// persist it before any blocking external call so a retry after a crash can
// check-then-adopt rather than double-create.
func NewToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// ContentAddressed derives an id from the canonical form of the inputs
// themselves. Two logically identical resources collapse to one id; providers
// opt into this deliberately (e.g. immutable config snapshots) and must
// document the choice.
func ContentAddressed(prefix string, inputs map[string]any) string {
	sum := sha256.Sum256(canonicalJSON(inputs))
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(sum[:10]))
}

// Slug lowercases a resource name and maps runs of non-alphanumeric
// characters to single dashes.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// canonicalJSON renders a mapping with sorted keys so the hash is independent
// of map iteration order. encoding/json already sorts map keys; the explicit
// walk keeps nested non-string-keyed maps from slipping through.
func canonicalJSON(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, _ := json.Marshal(k)
		b.Write(kj)
		b.WriteByte(':')
		switch v := m[k].(type) {
		case map[string]any:
			b.Write(canonicalJSON(v))
		default:
			vj, _ := json.Marshal(v)
			b.Write(vj)
		}
	}
	b.WriteByte('}')
	return []byte(b.String())
}
