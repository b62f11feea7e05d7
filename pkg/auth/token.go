package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PermissionStaff grants the elevated privileges staff members have on every auction.
const PermissionStaff = "auctions:staff"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrCannotSign   = errors.New("signer has no private key")
)

// Claims are the JWT claims issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	FullName    string   `json:"full_name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Identity is the resolved caller of a request or connection.
type Identity struct {
	UserID      uuid.UUID
	Email       string
	Permissions []string
}

// IsStaff reports whether the identity carries the staff permission.
func (i *Identity) IsStaff() bool {
	return i != nil && slices.Contains(i.Permissions, PermissionStaff)
}

// IdentityResolver turns a bearer token into an Identity.
type IdentityResolver interface {
	ResolveIdentity(token string) (*Identity, error)
}

// Signer handles token generation and validation.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	ttl        time.Duration
}

// NewSigner creates a Signer from PEM-encoded keys.
func NewSigner(privateKeyPEM, publicKeyPEM []byte, issuer string) (*Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to parse private key PEM")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	s, err := NewSignerFromPublicKey(publicKeyPEM, issuer)
	if err != nil {
		return nil, err
	}
	s.privateKey = priv
	return s, nil
}

// NewSignerFromPublicKey creates a Signer that can only validate tokens.
func NewSignerFromPublicKey(publicKeyPEM []byte, issuer string) (*Signer, error) {
	blockPub, _ := pem.Decode(publicKeyPEM)
	if blockPub == nil {
		return nil, errors.New("failed to parse public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}

	return &Signer{
		publicKey: rsaPub,
		issuer:    issuer,
		ttl:       15 * time.Minute,
	}, nil
}

// GenerateAccessToken signs a short-lived access token for userID.
func (s *Signer) GenerateAccessToken(userID uuid.UUID, email, fullName string, permissions []string) (string, time.Time, error) {
	if s.privateKey == nil {
		return "", time.Time{}, ErrCannotSign
	}

	now := time.Now()
	expiry := now.Add(s.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		Email:       email,
		FullName:    fullName,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}

// ValidateToken parses and verifies the JWT signature, expiry and issuer.
func (s *Signer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.publicKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// ResolveIdentity validates token and maps its claims to an Identity.
func (s *Signer) ResolveIdentity(token string) (*Identity, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return &Identity{
		UserID:      userID,
		Email:       claims.Email,
		Permissions: claims.Permissions,
	}, nil
}
