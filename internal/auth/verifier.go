// Package auth verifies bearer tokens issued by the external identity
// provider. Tokens are validated against the issuer's published JWKS; this
// service never mints or refreshes tokens itself.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwksRefreshInterval is how often the signing keys are re-fetched
const jwksRefreshInterval = 24 * time.Hour

// Claims are the token claims the broker cares about
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Picture     string `json:"picture"`
}

// JWKS is the issuer's published key set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single RSA signing key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

var (
	ErrEmptyToken   = errors.New("token is empty")
	ErrTokenInvalid = errors.New("invalid token claims")
	ErrTokenExpired = errors.New("token expired")
)

// Verifier validates RS256 tokens against a cached JWKS
type Verifier struct {
	issuer string

	mu       sync.RWMutex
	jwks     *JWKS
	keyCache map[string]*rsa.PublicKey

	stopRefresh chan struct{}
	stopOnce    sync.Once
}

// NewVerifier fetches the issuer's JWKS and starts a background refresh
// loop. Keys rotate rarely; a 24-hour refresh tracks them
func NewVerifier(issuerURL string) (*Verifier, error) {
	v := &Verifier{
		issuer:      issuerURL,
		keyCache:    make(map[string]*rsa.PublicKey),
		stopRefresh: make(chan struct{}),
	}

	if err := v.refreshJWKS(); err != nil {
		return nil, err
	}

	go func() {
		ticker := time.NewTicker(jwksRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := v.refreshJWKS(); err != nil {
					log.Printf("Error refreshing JWKS: %v", err)
				} else {
					log.Println("JWKS refreshed successfully")
				}
			case <-v.stopRefresh:
				return
			}
		}
	}()

	return v, nil
}

// Close stops the background refresh loop
func (v *Verifier) Close() {
	v.stopOnce.Do(func() { close(v.stopRefresh) })
}

func (v *Verifier) refreshJWKS() error {
	jwksURL := fmt.Sprintf("%s/.well-known/jwks.json", strings.TrimSuffix(v.issuer, "/"))

	resp, err := http.Get(jwksURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.mu.Lock()
	v.jwks = &jwks
	// Clear the key cache to force re-conversion against the new set
	v.keyCache = make(map[string]*rsa.PublicKey)
	v.mu.Unlock()

	log.Printf("JWKS loaded with %d keys", len(jwks.Keys))
	return nil
}

// Verify validates a bearer token and returns its claims
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}

		return v.publicKey(kid)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", v.issuer, claims.Issuer)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// publicKey retrieves and caches the RSA public key for a kid
func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	if key, exists := v.keyCache[kid]; exists {
		v.mu.RUnlock()
		return key, nil
	}
	jwks := v.jwks
	v.mu.RUnlock()

	if jwks == nil {
		return nil, errors.New("JWKS not initialized")
	}

	for _, jwk := range jwks.Keys {
		if jwk.Kid == kid {
			publicKey, err := jwkToPublicKey(jwk)
			if err != nil {
				return nil, err
			}

			v.mu.Lock()
			v.keyCache[kid] = publicKey
			v.mu.Unlock()

			return publicKey, nil
		}
	}

	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

// jwkToPublicKey converts a JWK to an RSA public key
func jwkToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

// ExtractTokenFromRequest extracts a bearer token from the query string or
// the Authorization header. Query tokens exist because browser websocket
// clients cannot always set headers
func ExtractTokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
