package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Firebase ID tokens are RS256 JWTs signed with Google's securetoken keys,
// published as x509 certs keyed by kid.
const certsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
	ErrNoSubject      = errors.New("token has no subject")
)

// Verifier validates Firebase ID tokens. With SkipVerify it only checks
// structure and expiry (emulator and tests); otherwise it verifies the
// RS256 signature against Google's published certificates.
type Verifier struct {
	projectID  string
	skipVerify bool
	client     *http.Client
	certsURL   string

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	keysExpiry time.Time
}

// NewVerifier creates a verifier for the given Firebase project.
func NewVerifier(projectID string, skipVerify bool) *Verifier {
	return &Verifier{
		projectID:  projectID,
		skipVerify: skipVerify,
		client:     &http.Client{Timeout: 10 * time.Second},
		certsURL:   certsURL,
	}
}

// Verify checks the token and returns its subject (the firebase uid).
func (v *Verifier) Verify(token string) (string, error) {
	if strings.Count(token, ".") != 2 {
		return "", ErrMalformedToken
	}

	if v.skipVerify {
		return v.verifyStructure(token)
	}
	return v.verifySignature(token)
}

// verifyStructure decodes the claims without checking the signature and
// validates expiry and subject only.
func (v *Verifier) verifyStructure(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", ErrMalformedToken
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Before(time.Now()) {
		return "", ErrExpiredToken
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

func (v *Verifier) verifySignature(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.projectID != "" {
		opts = append(opts,
			jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
			jwt.WithAudience(v.projectID),
		)
	}

	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyForToken, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpiredToken
		default:
			return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	if !parsed.Valid {
		return "", ErrMalformedToken
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

func (v *Verifier) keyForToken(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}

	key := v.cachedKey(kid)
	if key != nil {
		return key, nil
	}

	if err := v.refreshKeys(); err != nil {
		return nil, err
	}

	key = v.cachedKey(kid)
	if key == nil {
		return nil, fmt.Errorf("no certificate for kid %q", kid)
	}
	return key, nil
}

func (v *Verifier) cachedKey(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if time.Now().After(v.keysExpiry) {
		return nil
	}
	return v.keys[kid]
}

// refreshKeys fetches the current certificates and caches them for the
// duration announced by the Cache-Control max-age header.
func (v *Verifier) refreshKeys() error {
	resp, err := v.client.Get(v.certsURL)
	if err != nil {
		return fmt.Errorf("failed to fetch signing certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cert endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("failed to decode certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseRSAPublicKey(certPEM)
		if err != nil {
			return fmt.Errorf("failed to parse cert %q: %w", kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.keysExpiry = time.Now().Add(maxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not RSA")
	}
	return key, nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	// conservative fallback when the header is missing
	return 5 * time.Minute
}
