package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindUser  Kind = "user"
	KindGuest Kind = "guest"
)

// Identity names the owner of a cart or wishlist. Users are identified
// by the subject of their bearer token, guests by a session id the
// client carries between requests.
type Identity struct {
	Kind Kind
	ID   string
}

// Key returns the storage key prefix for this identity. User and guest
// keys never collide so the same numeric id can exist in both spaces.
func (id Identity) Key() string {
	if id.Kind == KindUser {
		return "u_" + id.ID
	}
	return "g_" + id.ID
}

const guestHeader = "X-Guest-Session"

type ctxKey struct{}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware resolves the caller's identity. A valid bearer token wins;
// otherwise the guest session header is used, minting a fresh session id
// when the client does not present one. The resolved guest id is echoed
// back so clients can persist it.
func Middleware(maker *TokenMaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolve(maker, r)
			if id.Kind == KindGuest {
				w.Header().Set(guestHeader, id.ID)
			}
			ctx := context.WithValue(r.Context(), ctxKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(maker *TokenMaker, r *http.Request) Identity {
	if maker != nil {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			claims, err := maker.Parse(strings.TrimPrefix(header, "Bearer "))
			if err == nil && claims.UserID != "" {
				return Identity{Kind: KindUser, ID: claims.UserID}
			}
		}
	}
	// guest ids become cache file names, so only well-formed uuids are
	// accepted; anything else gets a fresh session
	if session := r.Header.Get(guestHeader); session != "" {
		if id, err := uuid.Parse(session); err == nil {
			return Identity{Kind: KindGuest, ID: id.String()}
		}
	}
	return Identity{Kind: KindGuest, ID: uuid.NewString()}
}
