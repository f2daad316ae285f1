// Package core provides the shared data model and error taxonomy for
// ocidist: digests, references, descriptors, manifests and the sentinel
// and structured errors returned across the Layout, registry and
// orchestration layers.
package core

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

// Digest is a content address (algorithm, hex). It reuses go-digest's
// representation so it interoperates directly with image-spec types.
type Digest = digest.Digest

// Algorithm identifies a supported digest algorithm.
type Algorithm = digest.Algorithm

const (
	SHA256 = digest.SHA256
	SHA512 = digest.SHA512
)

var supportedAlgorithms = map[Algorithm]int{
	SHA256: 64,
	SHA512: 128,
}

// ParseDigest parses and validates a digest string of the form
// "<algorithm>:<hex>". Only sha256 and sha512 are accepted; hex must be
// lowercase and exactly the length required by the algorithm.
func ParseDigest(s string) (Digest, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", &InvalidDigestError{Digest: s, Reason: "missing ':' separator"}
	}
	algo := Algorithm(s[:i])
	hex := s[i+1:]

	wantLen, ok := supportedAlgorithms[algo]
	if !ok {
		return "", &InvalidDigestError{Digest: s, Reason: "unsupported algorithm " + string(algo)}
	}
	if len(hex) != wantLen {
		return "", &InvalidDigestError{Digest: s, Reason: "wrong hex length for " + string(algo)}
	}
	for _, c := range hex {
		isLowerHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isLowerHex {
			return "", &InvalidDigestError{Digest: s, Reason: "hex must be lowercase hexadecimal"}
		}
	}

	d := Digest(s)
	return d, nil
}

// ReferrersTag returns the fallback tag scheme "<algo>-<first 32 hex chars>"
// used to look up referrer indexes on registries without the Referrers API.
func ReferrersTag(d Digest) string {
	s := string(d)
	i := strings.IndexByte(s, ':')
	algo, hex := s[:i], s[i+1:]
	n := 32
	if len(hex) < n {
		n = len(hex)
	}
	return algo + "-" + hex[:n]
}
