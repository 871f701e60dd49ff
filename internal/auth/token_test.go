package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	// structural mode never checks the signature, so any HMAC key works
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestVerifyStructuralMode(t *testing.T) {
	v := NewVerifier("", true)

	subject, err := v.Verify(unsignedToken(t, "uid-123", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "uid-123", subject)
}

func TestVerifyStructuralModeExpired(t *testing.T) {
	v := NewVerifier("", true)

	_, err := v.Verify(unsignedToken(t, "uid-123", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyStructuralModeNoSubject(t *testing.T) {
	v := NewVerifier("", true)

	_, err := v.Verify(unsignedToken(t, "", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestVerifyRejectsTwoSegmentToken(t *testing.T) {
	for _, skip := range []bool{true, false} {
		v := NewVerifier("", skip)
		_, err := v.Verify("only.twoparts")
		assert.ErrorIs(t, err, ErrMalformedToken)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier("", true)
	_, err := v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

// signing fixture for full verification: a self-signed cert served the way
// Google publishes securetoken certs.
type certFixture struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
}

func newCertFixture(t *testing.T) *certFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	f := &certFixture{key: key, kid: "test-kid"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(map[string]string{f.kid: string(certPEM)})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *certFixture) sign(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func verifierFor(f *certFixture, projectID string) *Verifier {
	v := NewVerifier(projectID, false)
	v.certsURL = f.server.URL
	return v
}

func TestVerifySignedToken(t *testing.T) {
	f := newCertFixture(t)
	v := verifierFor(f, "demo-project")

	token := f.sign(t, jwt.RegisteredClaims{
		Subject:   "uid-999",
		Issuer:    "https://securetoken.google.com/demo-project",
		Audience:  jwt.ClaimStrings{"demo-project"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	subject, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-999", subject)
}

func TestVerifySignedTokenWrongIssuer(t *testing.T) {
	f := newCertFixture(t)
	v := verifierFor(f, "demo-project")

	token := f.sign(t, jwt.RegisteredClaims{
		Subject:   "uid-999",
		Issuer:    "https://securetoken.google.com/other-project",
		Audience:  jwt.ClaimStrings{"demo-project"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestVerifySignedTokenBadSignature(t *testing.T) {
	f := newCertFixture(t)
	v := verifierFor(f, "demo-project")

	// signed by a different key than the one the cert endpoint serves
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "uid-999",
		Issuer:    "https://securetoken.google.com/demo-project",
		Audience:  jwt.ClaimStrings{"demo-project"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(other)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsUnsignedAlgInFullMode(t *testing.T) {
	f := newCertFixture(t)
	v := verifierFor(f, "demo-project")

	// a well-formed HS256 token must not pass full verification
	_, err := v.Verify(unsignedToken(t, "uid-999", time.Now().Add(time.Hour)))
	assert.Error(t, err)
}

func TestMaxAgeParsing(t *testing.T) {
	assert.Equal(t, time.Hour, maxAge("public, max-age=3600, must-revalidate"))
	assert.Equal(t, 5*time.Minute, maxAge(""))
	assert.Equal(t, 5*time.Minute, maxAge("no-store"))
}
