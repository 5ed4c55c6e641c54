package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="testrealm@host.com", qop="auth,auth-int", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`
	ch, ok := parseDigestChallenge(header)
	require.True(t, ok)
	assert.Equal(t, "testrealm@host.com", ch.realm)
	assert.Equal(t, "dcd98b7102dd2f0e8b11d0f600bfb0c093", ch.nonce)
	assert.Equal(t, "auth,auth-int", ch.qop)
	assert.Equal(t, "5ccc069c403ebaf9f0171e9517f40e41", ch.opaque)
	assert.Equal(t, "MD5", ch.algorithm)
}

func TestParseDigestChallengeRejectsNonDigest(t *testing.T) {
	_, ok := parseDigestChallenge(`Basic realm="example"`)
	assert.False(t, ok)
}

func TestParseDigestChallengeRequiresNonce(t *testing.T) {
	_, ok := parseDigestChallenge(`Digest realm="example"`)
	assert.False(t, ok)
}

// TestDigestHashMatchesRFCVector reproduces the worked example from RFC 2617
// section 3.5 / carried into RFC 7616 through digestHash, the hash chain
// buildDigestAuthorization uses: fixing nc and cnonce (randomized inside
// buildDigestAuthorization) lets the expected "response" value be checked
// against the RFC's own published digest.
func TestDigestHashMatchesRFCVector(t *testing.T) {
	ha1 := digestHash("MD5", "Mufasa:testrealm@host.com:Circle Of Life")
	ha2 := digestHash("MD5", "GET:/dir/index.html")
	require.Equal(t, "939e7578ed9e3c518a452acee763bce9", ha1)
	require.Equal(t, "39aff3a2bab6126f332b942af96d3366", ha2)

	response := digestHash("MD5", ha1+":dcd98b7102dd2f0e8b11d0f600bfb0c093:00000001:0a4f113b:auth:"+ha2)
	assert.Equal(t, "6629fae49393a05397450978507c4ef1", response)
}

func TestFirstDigestQop(t *testing.T) {
	assert.Equal(t, "auth", firstDigestQop("auth,auth-int"))
	assert.Equal(t, "auth", firstDigestQop("auth"))
}
