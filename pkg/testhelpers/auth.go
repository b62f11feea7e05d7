package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-estates/pkg/auth"
)

// TestIssuer is the issuer of tokens minted by NewTestSigner.
const TestIssuer = "gavel-test"

// NewTestSigner returns a signer backed by a fresh RSA key pair.
func NewTestSigner(t *testing.T) *auth.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	signer, err := auth.NewSigner(privPEM, pubPEM, TestIssuer)
	require.NoError(t, err)
	return signer
}

// Token mints an access token for userID with the given permissions.
func Token(t *testing.T, signer *auth.Signer, userID uuid.UUID, permissions ...string) string {
	t.Helper()
	token, _, err := signer.GenerateAccessToken(userID, userID.String()+"@example.com", "Test User", permissions)
	require.NoError(t, err)
	return token
}
