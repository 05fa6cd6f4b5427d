package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

type apiKeyCtxKey struct{}

// KeyFromContext returns the API key that authenticated the request.
func KeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	k, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return k, ok
}

// Authenticator checks X-API-Key against stored HMAC hashes.
type Authenticator struct {
	keys   auth.Repository
	pepper string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys auth.Repository, pepper string) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves the key behind raw.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*auth.APIKeyInfo, error) {
	if raw == "" {
		return nil, auth.ErrKeyNotFound
	}
	hash := auth.HashKey(raw, a.pepper)
	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	// The lookup is by hash, but a repository may match loosely.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// Require rejects requests without a valid key granted scope.
func (a *Authenticator) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := a.Authenticate(ctx, r.Header.Get(httpmiddleware.HeaderAPIKey))
			switch {
			case errors.Is(err, auth.ErrKeyNotFound):
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
				return
			case err != nil:
				zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			case !info.HasScope(scope):
				httpmiddleware.WriteError(w, http.StatusForbidden, "forbidden", "api key lacks scope "+scope)
				return
			}
			ctx = context.WithValue(ctx, apiKeyCtxKey{}, info)
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
