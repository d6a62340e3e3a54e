// Package signature implements the canonical string and SHA-512 signature
// shared by outbound payment requests and inbound bank callbacks.
package signature

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"payment-gateway-service/internal/paymenterr"
)

const separator = "|"

// excluded fields never take part in the canonical string.
var excluded = map[string]struct{}{
	"hash":     {},
	"encoding": {},
}

var escaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// Canonicalize builds the exact string that is hashed to produce a signature.
func Canonicalize(fields map[string]string, secret string) (string, error) {
	if secret == "" {
		return "", errors.Wrap(paymenterr.ErrConfiguration, "empty shared secret")
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		if _, skip := excluded[strings.ToLower(key)]; skip {
			continue
		}
		keys = append(keys, key)
	}

	// byte order first so keys that only differ in case have a fixed relative order
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return naturalLess(strings.ToLower(keys[i]), strings.ToLower(keys[j]))
	})

	values := make([]string, 0, len(keys))
	for _, key := range keys {
		values = append(values, escape(fields[key]))
	}

	// the secret is always preceded by a separator, even with no fields
	return strings.Join(values, separator) + separator + escape(secret), nil
}

// Sign returns the base64 encoded SHA-512 digest of the canonical string.
func Sign(fields map[string]string, secret string) (string, error) {
	canonical, err := Canonicalize(fields, secret)
	if err != nil {
		return "", err
	}

	digest := sha512.Sum512([]byte(canonical))
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// Verify recomputes the signature over fields and compares it with signature in constant time.
// Any hash field inside fields is ignored.
func Verify(fields map[string]string, secret, signature string) (bool, error) {
	expected, err := Sign(fields, secret)
	if err != nil {
		return false, err
	}
	if signature == "" {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1, nil
}

// escape replaces backslashes before pipes; a single-pass replacer never rescans its output.
func escape(value string) string {
	return escaper.Replace(value)
}
