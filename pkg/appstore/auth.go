package appstore

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenLifetime is how long a generated token stays valid (max 20 mins).
	TokenLifetime = 20 * time.Minute
	// Audience is the fixed audience of App Store Connect tokens.
	Audience = "appstoreconnect-v1"
)

const (
	opParseKey = "parse key"
	opSign     = "sign"
	opMessage  = "encode message"
)

// Signing errors; match with errors.Is.
var (
	ErrInvalidPrivateKey = model.NewError(model.InvalidInput, opParseKey, "invalid private key, check the contents of the .p8 file", nil)
	ErrSigningFailed     = model.NewError(model.AuthFailure, opSign, "signing failed", nil)
	ErrInvalidData       = model.NewError(model.InvalidInput, opMessage, "message is not valid UTF-8", nil)
)

// Signer produces a bearer token for a request made at now.
type Signer interface {
	Token(now time.Time) (string, error)
}

// KeySigner signs tokens with an API key. It holds no mutable state, a token
// is generated from scratch on every call.
type KeySigner struct {
	IssuerID   string
	KeyID      string
	PrivateKey string
}

// NewKeySigner creates a signer for the given credentials.
func NewKeySigner(creds model.Credentials) *KeySigner {
	return &KeySigner{
		IssuerID:   creds.IssuerID,
		KeyID:      creds.KeyID,
		PrivateKey: creds.PrivateKey,
	}
}

// Token implements Signer.
func (s *KeySigner) Token(now time.Time) (string, error) {
	return signAt(s.IssuerID, s.KeyID, s.PrivateKey, now)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	// single string rather than the array ClaimStrings marshals to
	Audience string `json:"aud"`
}

// Sign generates a token valid for TokenLifetime from now.
func Sign(issuerID, keyID, privateKeyPEM string) (string, error) {
	return signAt(issuerID, keyID, privateKeyPEM, time.Now())
}

func signAt(issuerID, keyID, privateKeyPEM string, now time.Time) (string, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	iat := now.Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerID,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(TokenLifetime)),
		},
		Audience: Audience,
	})
	token.Header["kid"] = keyID // Key ID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", signingError(err)
	}
	return signed, nil
}

// SignMessage returns the raw (r||s) ES256 signature of message.
func SignMessage(message, privateKeyPEM string) ([]byte, error) {
	if !utf8.ValidString(message) {
		return nil, ErrInvalidData
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	sig, err := jwt.SigningMethodES256.Sign(message, key)
	if err != nil {
		return nil, signingError(err)
	}
	return sig, nil
}

func signingError(err error) error {
	return model.NewError(model.AuthFailure, opSign, ErrSigningFailed.Msg, err)
}

// keyDecoder turns decoded key bytes into a P-256 key.
type keyDecoder struct {
	name   string
	decode func([]byte) (*ecdsa.PrivateKey, error)
}

// keyDecoders are tried in order, the first success wins.
var keyDecoders = []keyDecoder{
	{name: "PKCS#8 DER", decode: decodePKCS8},
	{name: "raw P-256 scalar", decode: decodeRawScalar},
}

var errNotApplicable = errors.New("not applicable")

func parsePrivateKey(text string) (*ecdsa.PrivateKey, error) {
	der, err := stripPEM(text)
	if err != nil {
		return nil, err
	}

	var errs []string
	for _, d := range keyDecoders {
		key, err := d.decode(der)
		if err == nil {
			return key, nil
		}
		if errors.Is(err, errNotApplicable) {
			continue
		}
		errs = append(errs, fmt.Sprintf("%s: %v", d.name, err))
	}
	return nil, model.NewError(model.AuthFailure, opSign, ErrSigningFailed.Msg,
		fmt.Errorf("%s (key length %d bytes)", strings.Join(errs, "; "), len(der)))
}

func stripPEM(text string) ([]byte, error) {
	var sb strings.Builder
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-----") {
			continue // BEGIN/END armor
		}
		sb.WriteString(strings.Join(strings.Fields(line), ""))
	}
	cleaned := strings.TrimRight(sb.String(), "=")
	if cleaned == "" {
		return nil, ErrInvalidPrivateKey
	}
	der, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, model.NewError(model.InvalidInput, opParseKey, ErrInvalidPrivateKey.Msg, err)
	}
	return der, nil
}

func decodePKCS8(der []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, not an ECDSA key", key)
	}
	if ec.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key curve is %s, expected P-256", ec.Curve.Params().Name)
	}
	return ec, nil
}

func decodeRawScalar(raw []byte) (*ecdsa.PrivateKey, error) {
	if len(raw) != 32 {
		return nil, errNotApplicable
	}
	// validates the scalar is in [1, n-1]
	if _, err := ecdh.P256().NewPrivateKey(raw); err != nil {
		return nil, err
	}
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(raw)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(raw),
	}, nil
}
