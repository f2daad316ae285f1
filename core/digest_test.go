package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigest_Valid(t *testing.T) {
	t.Parallel()

	d, err := ParseDigest("sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149")
	require.NoError(t, err)
	assert.Equal(t, SHA256, d.Algorithm())
	assert.Equal(t, "a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149", d.Encoded())
	assert.Equal(t, "sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149", d.String())
}

func TestParseDigest_SHA512(t *testing.T) {
	t.Parallel()

	hex128 := ""
	for i := 0; i < 128; i++ {
		hex128 += "a"
	}
	d, err := ParseDigest("sha512:" + hex128)
	require.NoError(t, err)
	assert.Equal(t, SHA512, d.Algorithm())
}

func TestParseDigest_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty string":             "",
		"truncated hex":            "sha256:5",
		"missing separator":        "sha256-deadbeef",
		"unknown algorithm":        "md5:d41d8cd98f00b204e9800998ecf8427e",
		"63-char hex (off-by-one)": "sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab14",
		"65-char hex (off-by-one)": "sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab1499",
		"uppercase hex":            "sha256:A658F2EA6B48FFBD284DC14D82F412A89F30851D0FB7AD01C86F245F0A5AB149",
		"non-hex characters":       "sha256:zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
	}

	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDigest(s)
			var invalidErr *InvalidDigestError
			require.ErrorAsf(t, err, &invalidErr, "input %q must be rejected", s)
		})
	}
}

func TestReferrersTag(t *testing.T) {
	t.Parallel()

	d, err := ParseDigest("sha256:a658f2ea6b48ffbd284dc14d82f412a89f30851d0fb7ad01c86f245f0a5ab149")
	require.NoError(t, err)
	assert.Equal(t, "sha256-a658f2ea6b48ffbd284dc14d82f412a", ReferrersTag(d))
}
