package agents

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ContentHash derives the idempotency hash for a generation request.
// The same project, artifact type and normalized inputs always yield
// the same hash, which is what makes generation replay-safe: a second
// request with identical inputs returns the stored artifact.
func ContentHash(projectID uint, artifactType string, inputs map[string]string) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", projectID, artifactType)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, normalizeInput(inputs[k]))
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeInput collapses whitespace and case so trivial formatting
// differences do not defeat the cache.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
