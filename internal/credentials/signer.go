// Package credentials mints the bearer tokens that authenticate requests made
// under a credential profile.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/seqctl/internal/config"
)

// refreshSkew is how long before expiry a cached token is replaced.
const refreshSkew = 30 * time.Second

// Claims are the claims carried by a profile token.
type Claims struct {
	Region string `json:"region,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues HS256 tokens for one profile. Tokens are cached and reused
// until shortly before they expire. Signer is safe for concurrent use.
type Signer struct {
	profile string
	region  string
	cfg     config.CredentialConfig
	secret  []byte
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewSigner creates a Signer for profile using the secret held in the
// environment variable named by cfg.SecretEnv.
func NewSigner(profile, region string, cfg config.CredentialConfig) (*Signer, error) {
	secret, err := Secret(profile, cfg)
	if err != nil {
		return nil, err
	}
	return newSigner(profile, region, cfg, secret), nil
}

// Secret reads the signing secret of a profile from the environment.
func Secret(profile string, cfg config.CredentialConfig) ([]byte, error) {
	if cfg.SecretEnv == "" {
		return nil, fmt.Errorf("credentials: profile %q has no secret_env", profile)
	}
	secret := os.Getenv(cfg.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("credentials: profile %q: environment variable %s is not set", profile, cfg.SecretEnv)
	}
	return []byte(secret), nil
}

func newSigner(profile, region string, cfg config.CredentialConfig, secret []byte) *Signer {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &Signer{
		profile: profile,
		region:  region,
		cfg:     cfg,
		secret:  secret,
		now:     time.Now,
	}
}

// Token returns a signed token, minting a new one when the cached token is
// close to expiry.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshSkew).Before(s.expiry) {
		return s.token, nil
	}

	expiry := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		Region: s.region,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   s.profile,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.cfg.KeyID != "" {
		token.Header["kid"] = s.cfg.KeyID
	}

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("credentials: signing token for profile %q: %w", s.profile, err)
	}

	s.token = signed
	s.expiry = expiry
	return signed, nil
}

// Verify parses a token issued for cfg and returns its claims.
func Verify(tokenString string, secret []byte, cfg config.CredentialConfig) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(errors.New("credentials: invalid token"), err)
	}
	return claims, nil
}
