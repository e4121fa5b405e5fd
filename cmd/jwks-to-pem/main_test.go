package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	x := base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, 32)))
	y := base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, 32)))
	doc := fmt.Sprintf(`{"keys":[{"kty":"RSA","alg":"RS256"},{"kty":"EC","crv":"P-256","alg":"ES256","x":%q,"y":%q}]}`, x, y)

	out, err := toPEM([]byte(doc))
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))
}

func TestToPEM_NoKey(t *testing.T) {
	_, err := toPEM([]byte(`{"keys":[{"kty":"RSA","alg":"RS256"}]}`))
	assert.Error(t, err)
	_, err = toPEM([]byte(`not json`))
	assert.Error(t, err)
}
