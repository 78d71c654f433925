package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const tokenIssuer = "dexnet"

// KeyPair is the node's Ed25519 ledger identity. The same key signs
// request tokens and derives the libp2p transport identity.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Created    time.Time
}

// GenerateKeyPair creates a new Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Created:    time.Now(),
	}, nil
}

// LoadKeyPair reads a hex-encoded Ed25519 seed from a file.
func LoadKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		PrivateKey: privateKey,
		Created:    time.Now(),
	}, nil
}

// PublicKeyHex returns the hex-encoded public key, the form peer
// identities take on the ledger.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// Libp2pIdentity converts the key pair into a libp2p private key.
func (kp *KeyPair) Libp2pIdentity() (libp2pcrypto.PrivKey, error) {
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("converting key to libp2p identity: %w", err)
	}
	return priv, nil
}

// PeerIDFromIdentity derives the libp2p peer ID of a ledger identity
// (hex-encoded Ed25519 public key).
func PeerIDFromIdentity(identityHex string) (peer.ID, error) {
	raw, err := hex.DecodeString(identityHex)
	if err != nil {
		return "", fmt.Errorf("decoding identity key: %w", err)
	}
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("parsing identity key: %w", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("deriving peer id: %w", err)
	}
	return id, nil
}

// tokenClaims are the claims carried by a request token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity"`
}

// GenerateToken issues a short-lived EdDSA token proving the caller
// controls its ledger identity key.
func (kp *KeyPair) GenerateToken(duration time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
		Identity: kp.PublicKeyHex(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks a request token's signature against the identity
// key embedded in its claims and returns that identity.
func VerifyToken(tokenString string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		raw, err := hex.DecodeString(claims.Identity)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid identity claim")
		}
		return ed25519.PublicKey(raw), nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Identity, nil
}
