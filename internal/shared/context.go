package shared

import (
	"context"
	"net/http"
	"strconv"
)

// Identity headers set by the upstream gateway.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderOrgID     = "X-Org-ID"
	HeaderSessionID = "X-Session-ID"
)

// Identity is the caller as asserted by the upstream gateway.
type Identity struct {
	ActorID   int64
	OrgID     int64
	SessionID string
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// IdentityFromRequest reads identity headers. Missing or malformed numeric
// headers yield zero values.
func IdentityFromRequest(r *http.Request) Identity {
	actor, _ := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	org, _ := strconv.ParseInt(r.Header.Get(HeaderOrgID), 10, 64)
	return Identity{ActorID: actor, OrgID: org, SessionID: r.Header.Get(HeaderSessionID)}
}
