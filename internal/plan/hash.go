package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/dagopt/internal/dag"
)

// Domain prefixes for content hashes. The version suffix allows the
// encoding to change without colliding with old cache entries.
const (
	DomainPlan   = "dagopt/plan/v1"
	DomainConfig = "dagopt/config/v1"
	DomainLabel  = "dagopt/label/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex. The null
// separator keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of g's canonical encoding. Two graphs with
// the same operators, ids, flows and ports hash equally.
func Hash(g *dag.Graph) (string, error) {
	data, err := MarshalCompact(g)
	if err != nil {
		return "", fmt.Errorf("hash plan: %w", err)
	}
	return hashWithDomain(DomainPlan, data), nil
}

// HashValue returns the content hash of any canonical-encodable value under
// the given domain.
func HashValue(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// Digest hashes a sequence of strings under the label domain. Parts are
// separated by 0x00 so ("ab","c") and ("a","bc") differ.
func Digest(parts ...string) string {
	return hashWithDomain(DomainLabel, []byte(strings.Join(parts, "\x00")))
}
