package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifierSHA1(t *testing.T) {
	v, err := NewHMACVerifier("topsecret", "")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmSHA1, v.Algorithm())

	assert.NoError(t, v.Verify("TX-1001", "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81"))
	assert.NoError(t, v.Verify("TX-1001", strings.ToUpper("5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81")))
	assert.Equal(t, "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81", v.Sign("TX-1001"))
}

func TestHMACVerifierSHA256(t *testing.T) {
	v, err := NewHMACVerifier("topsecret", "SHA256")
	require.NoError(t, err)

	assert.NoError(t, v.Verify("TX-1001", "13600186ee87bee5d18ae7e1c85baa61dfc7dd76fb3cf1b34fa4f6cc1ed805eb"))
	assert.ErrorIs(t, v.Verify("TX-1001", "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81"), ErrMismatch)
}

func TestHMACVerifierRejections(t *testing.T) {
	v, err := NewHMACVerifier("topsecret", AlgorithmSHA1)
	require.NoError(t, err)

	cases := []struct {
		name string
		id   string
		sig  string
		want error
	}{
		{name: "missing id", id: "", sig: "abcd", want: ErrMissingTransaction},
		{name: "missing signature", id: "TX-1001", sig: " ", want: ErrMissingSignature},
		{name: "not hex", id: "TX-1001", sig: "zzzz", want: ErrMalformedSignature},
		{name: "wrong id", id: "TX-1002", sig: "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81", want: ErrMismatch},
		{name: "truncated", id: "TX-1001", sig: "5911cd0d", want: ErrMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tc.id, tc.sig), tc.want)
		})
	}
}

func TestHMACVerifierMissingSecret(t *testing.T) {
	v, err := NewHMACVerifier("", AlgorithmSHA1)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify("TX-1001", "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81"), ErrMissingSecret)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := NewHMACVerifier("topsecret", "md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestVerifyFunc(t *testing.T) {
	assert.True(t, Verify("TX-1001", "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81", "topsecret"))
	assert.False(t, Verify("TX-1001", "5911cd0d6bf6c6ca228efbacc4a7d44c0d0cbe81", "other"))
	assert.False(t, Verify("TX-1001", "", "topsecret"))
}
