// Package kraken implements the exchange capability interfaces for the
// Kraken spot API: symbol normalization, REST request/response translation,
// WebSocket stream parsing, signing, and the error taxonomy.
package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Signer produces the API-Sign header: base64 of
// HMAC-SHA512(path + SHA256(nonce + postData)) keyed with the
// base64-decoded API secret.
type Signer struct{}

// NewSigner creates a Kraken request signer.
func NewSigner() *Signer { return &Signer{} }

// Sign implements rest.Signer.
func (s *Signer) Sign(path string, postData string, nonce int64, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	inner := sha256.Sum256([]byte(strconv.FormatInt(nonce, 10) + postData))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
