// Package auth implements bearer-token verification for the gateway.
//
// This is deliberately verification-only: the gateway never issues a
// token or drives a login flow, it only validates tokens an external
// identity provider minted. Three key sources are tried in order: a
// statically configured public key, a JWKS endpoint keyed by kid, and
// an HS256 shared secret. See Verifier.Verify.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bricerising/tablegate/internal/errs"
)

// Claims is the normalized set of fields the gateway cares about from a
// verified token. Username is resolved from whichever of
// preferred_username / username / nickname / email is non-empty first.
type Claims struct {
	UserID   string
	Username string
	Email    string
	Raw      jwt.MapClaims
}

// Config configures the Verifier.
type Config struct {
	// PublicKeyPEM is a statically configured RSA public key (PEM). If
	// set and the token carries no kid, it is tried before any JWKS
	// lookup.
	PublicKeyPEM string

	// OIDCIssuerURL, if set, is used for provider discovery and JWKS
	// fetch-by-kid, and as the fallback realm-key source.
	OIDCIssuerURL string

	// HS256Secret, if set, is used whenever a token carries no kid and
	// no static public key is configured.
	HS256Secret string

	// Issuer and Audience are enforced when non-empty.
	Issuer   string
	Audience string

	// KeyCacheTTL bounds how long the discovered OIDC provider/keyset
	// is trusted before being rediscovered lazily on next lookup, so a
	// long-lived process eventually picks up key rotation.
	KeyCacheTTL time.Duration
}

// Verifier validates bearer tokens against the configured key sources.
type Verifier struct {
	cfg       Config
	staticKey *rsa.PublicKey

	mu           sync.Mutex
	provider     *oidc.Provider
	idVerifier   *oidc.IDTokenVerifier
	providerAt   time.Time
}

// NewVerifier constructs a Verifier. OIDC provider discovery happens
// lazily on first JWKS-bearing token so the gateway can start even if
// the identity provider is briefly unreachable at boot.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.KeyCacheTTL == 0 {
		cfg.KeyCacheTTL = time.Hour
	}
	v := &Verifier{cfg: cfg}

	if cfg.PublicKeyPEM != "" {
		key, err := parseRSAPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to parse static public key: %w", err)
		}
		v.staticKey = key
	}

	return v, nil
}

// Verify validates a raw JWT and returns normalized claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token: %w", errs.ErrAuthInvalid, err)
	}
	kid, _ := unverified.Header["kid"].(string)

	var claims jwt.MapClaims

	switch {
	case v.staticKey != nil && kid == "":
		claims, err = v.verifyRS256(tokenString, v.staticKey)
	case kid != "" && v.cfg.OIDCIssuerURL != "":
		claims, err = v.verifyOIDC(ctx, tokenString)
	case v.cfg.HS256Secret != "":
		claims, err = v.verifyHS256(tokenString)
	case v.cfg.OIDCIssuerURL != "":
		claims, err = v.verifyOIDC(ctx, tokenString)
	default:
		return nil, fmt.Errorf("%w: no verification key source configured", errs.ErrKeyNotFound)
	}
	if err != nil {
		return nil, err
	}

	if v.cfg.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != v.cfg.Issuer {
			return nil, fmt.Errorf("%w: unexpected issuer %q", errs.ErrAuthInvalid, iss)
		}
	}
	if v.cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		found := false
		for _, a := range aud {
			if a == v.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unexpected audience", errs.ErrAuthInvalid)
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", errs.ErrAuthInvalid)
	}

	return &Claims{
		UserID:   sub,
		Username: normalizeUsername(claims),
		Email:    stringClaim(claims, "email"),
		Raw:      claims,
	}, nil
}

// verifyHS256 verifies a token using the shared secret, explicitly
// rejecting any signing method other than HMAC (blocks algorithm
// substitution attacks).
func (v *Verifier) verifyHS256(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(v.cfg.HS256Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errs.ErrAuthInvalid
	}
	return claims, nil
}

// verifyRS256 verifies a token against a statically configured key.
func (v *Verifier) verifyRS256(tokenString string, key *rsa.PublicKey) (jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errs.ErrAuthInvalid
	}
	return claims, nil
}

// verifyOIDC verifies a token via the identity provider's JWKS, fetching
// and caching the verifier (and therefore the remote key set) once per
// KeyCacheTTL window.
func (v *Verifier) verifyOIDC(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	idVerifier, err := v.oidcVerifier(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := idVerifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthInvalid, err)
	}

	var claims jwt.MapClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: failed to parse claims: %w", err)
	}
	return claims, nil
}

func (v *Verifier) oidcVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.idVerifier != nil && time.Since(v.providerAt) < v.cfg.KeyCacheTTL {
		return v.idVerifier, nil
	}

	provider, err := oidc.NewProvider(ctx, v.cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discover OIDC provider: %w", errs.ErrKeyNotFound, err)
	}
	v.provider = provider
	// Audience is enforced separately above against cfg.Audience so we
	// don't hard-bind SkipClientIDCheck to a single configured client.
	v.idVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	v.providerAt = time.Now()
	return v.idVerifier, nil
}

// normalizeUsername returns the first non-empty trimmed candidate among
// preferred_username, username, nickname, email.
func normalizeUsername(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "username", "nickname", "email"} {
		if v := strings.TrimSpace(stringClaim(claims, key)); v != "" {
			return v
		}
	}
	return ""
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	data := []byte(pemStr)
	if !strings.Contains(pemStr, "-----BEGIN") {
		data = []byte(wrapPEM(pemStr))
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	return jwt.ParseRSAPublicKeyFromPEM(pem.EncodeToMemory(block))
}

// wrapPEM wraps a bare base64 public key in PEM armor, tolerating keys
// supplied without wrapping.
func wrapPEM(raw string) string {
	return "-----BEGIN PUBLIC KEY-----\n" + raw + "\n-----END PUBLIC KEY-----\n"
}
