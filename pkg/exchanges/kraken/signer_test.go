package kraken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_KnownVector(t *testing.T) {
	// Reference vector from the Kraken REST API documentation.
	secret := "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	postData := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"

	signature, err := NewSigner().Sign("/0/private/AddOrder", postData, 1616492376594, secret)
	require.NoError(t, err)
	assert.Equal(t,
		"4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==",
		signature)
}

func TestSigner_RejectsMalformedSecret(t *testing.T) {
	_, err := NewSigner().Sign("/0/private/Balance", "nonce=1", 1, "not base64!!!")
	require.Error(t, err)
}

func TestSigner_SignatureVariesWithNonce(t *testing.T) {
	secret := "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

	sig1, err := NewSigner().Sign("/0/private/Balance", "nonce=1", 1, secret)
	require.NoError(t, err)
	sig2, err := NewSigner().Sign("/0/private/Balance", "nonce=2", 2, secret)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig2)
}
