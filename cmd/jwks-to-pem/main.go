// Command jwks-to-pem prints the PEM public key of a Supabase project's ES256
// signing key, for use as SUPABASE_JWT_PUBLIC_KEY.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"
)

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
}

func main() {
	url := flag.String("url", "http://127.0.0.1:54321/auth/v1/.well-known/jwks.json", "JWKS endpoint")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching JWKS: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}
	out, err := toPEM(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(out)
}

// toPEM converts the first ES256 key of a JWKS document to a PKIX PEM block.
func toPEM(doc []byte) (string, error) {
	var set jwks
	if err := json.Unmarshal(doc, &set); err != nil {
		return "", fmt.Errorf("parse JWKS: %w", err)
	}
	for _, key := range set.Keys {
		if key.Kty != "EC" || key.Alg != "ES256" {
			continue
		}
		x, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil {
			return "", fmt.Errorf("decode x: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(key.Y)
		if err != nil {
			return "", fmt.Errorf("decode y: %w", err)
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return "", fmt.Errorf("marshal public key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
	}
	return "", errors.New("no EC/ES256 key in JWKS")
}
