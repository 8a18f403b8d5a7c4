package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/internal/credentials"
	"github.com/pitabwire/seqctl/model"
)

type claimsKey struct{}

// ClaimsFrom returns the verified caller claims, or nil on an
// unauthenticated route.
func ClaimsFrom(ctx context.Context) *credentials.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*credentials.Claims)
	return claims
}

// BearerAuthenticator returns middleware that requires an HS256 bearer token
// signed with secret and matching the issuer and audience in cfg. Verified
// claims are stored in the request context.
func BearerAuthenticator(secret []byte, cfg config.CredentialConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			claims, err := credentials.Verify(token, secret, cfg)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyTokenError(err)))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyTokenError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}
