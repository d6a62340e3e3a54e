package signature

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway-service/internal/paymenterr"
)

const secret = "secret"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		secret   string
		expected string
	}{
		{
			name:     "sorted case-insensitively",
			fields:   map[string]string{"Oid": "1", "amount": "2"},
			secret:   secret,
			expected: "2|1|secret",
		},
		{
			name:     "hash and encoding excluded",
			fields:   map[string]string{"amount": "2", "HASH": "x", "hash": "y", "Encoding": "utf-8"},
			secret:   secret,
			expected: "2|secret",
		},
		{
			name:     "numeric-aware order",
			fields:   map[string]string{"field10": "c", "field2": "b", "field1": "a"},
			secret:   secret,
			expected: "a|b|c|secret",
		},
		{
			name:     "pipe and backslash escaped",
			fields:   map[string]string{"a": `A|B`, "b": `C\D`},
			secret:   secret,
			expected: `A\|B|C\\D|secret`,
		},
		{
			name:     "secret escaped",
			fields:   map[string]string{"a": "x"},
			secret:   `s\|t`,
			expected: `x|s\\\|t`,
		},
		{
			name:     "empty value kept",
			fields:   map[string]string{"a": "", "b": "x"},
			secret:   secret,
			expected: "|x|secret",
		},
		{
			name:     "no fields",
			fields:   map[string]string{},
			secret:   secret,
			expected: "|secret",
		},
		{
			name:     "only excluded fields",
			fields:   map[string]string{"hash": "x", "HASH": "y", "encoding": "utf-8"},
			secret:   secret,
			expected: "|secret",
		},
		{
			name:     "single empty value",
			fields:   map[string]string{"a": ""},
			secret:   secret,
			expected: "|secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := Canonicalize(tt.fields, tt.secret)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestCanonicalize_EmptySecret(t *testing.T) {
	_, err := Canonicalize(map[string]string{"a": "b"}, "")
	assert.True(t, errors.Is(err, paymenterr.ErrConfiguration))

	_, err = Sign(map[string]string{"a": "b"}, "")
	assert.True(t, errors.Is(err, paymenterr.ErrConfiguration))
}

func TestCanonicalize_InsertionOrderIndependent(t *testing.T) {
	first := map[string]string{}
	first["Oid"] = "1"
	first["amount"] = "2"
	first["rnd"] = "3"

	second := map[string]string{}
	second["rnd"] = "3"
	second["amount"] = "2"
	second["Oid"] = "1"

	for range 20 {
		a, err := Canonicalize(first, secret)
		require.NoError(t, err)
		b, err := Canonicalize(second, secret)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestCanonicalize_CaseOnlyKeysDeterministic(t *testing.T) {
	fields := map[string]string{"oid": "lower", "OID": "upper", "Oid": "title"}

	expected, err := Canonicalize(fields, secret)
	require.NoError(t, err)
	assert.Equal(t, "upper|title|lower|secret", expected)

	for range 20 {
		actual, err := Canonicalize(fields, secret)
		require.NoError(t, err)
		assert.Equal(t, expected, actual)
	}
}

func TestCanonicalize_DelimiterInjection(t *testing.T) {
	joined, err := Canonicalize(map[string]string{"a": "A|B"}, secret)
	require.NoError(t, err)

	split, err := Canonicalize(map[string]string{"a": "A", "b": "B"}, secret)
	require.NoError(t, err)

	assert.NotEqual(t, joined, split)

	trailing, err := Canonicalize(map[string]string{"a": `A\`, "b": "B"}, secret)
	require.NoError(t, err)
	escapedPipe, err := Canonicalize(map[string]string{"a": `A\|B`}, secret)
	require.NoError(t, err)

	assert.NotEqual(t, trailing, escapedPipe)
}

func TestSign_KnownVector(t *testing.T) {
	sig, err := Sign(map[string]string{"oid": "ORD-1", "amount": "100.00"}, secret)
	require.NoError(t, err)
	assert.Equal(t, "uh2f79PITmPxs5zJLvq4uy/uBLlfdC4qdGPqSDLgfSzUrMS8mF216TDT29l/21D8FpStCnV63VlJiUHXaNNNWQ==", sig)
}

func TestVerify_RoundTrip(t *testing.T) {
	fields := map[string]string{
		"clientid": "100200300",
		"oid":      "ORD-1",
		"amount":   "100.00",
		"rnd":      "1700000000",
		"okUrl":    "https://shop.example/ok?a=1|2",
		"encoding": "utf-8",
	}

	sig, err := Sign(fields, secret)
	require.NoError(t, err)

	fields["HASH"] = sig
	ok, err := Verify(fields, secret, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	for key := range fields {
		if key == "HASH" || key == "encoding" {
			continue
		}

		t.Run("tampered "+key, func(t *testing.T) {
			tampered := make(map[string]string, len(fields))
			for k, v := range fields {
				tampered[k] = v
			}
			tampered[key] += "0"

			ok, err := Verify(tampered, secret, sig)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerify_Rejects(t *testing.T) {
	fields := map[string]string{"oid": "ORD-1"}
	sig, err := Sign(fields, secret)
	require.NoError(t, err)

	ok, err := Verify(fields, "other", sig)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Verify(fields, secret, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(fields, "", sig)
	assert.Error(t, err)
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, naturalLess("a2", "a10"))
	assert.False(t, naturalLess("a10", "a2"))
	assert.True(t, naturalLess("amount", "oid"))
	assert.True(t, naturalLess("ab", "abc"))
	assert.True(t, naturalLess("x1", "x01"))
	assert.False(t, naturalLess("same", "same"))
	assert.True(t, naturalLess("99999999999999999999998", "99999999999999999999999"))
}
