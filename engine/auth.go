package engine

import (
	"context"
	"crypto/subtle"
	"strings"

	"rankkit/core"
)

// Capability is an opaque token proving administrative privilege.
type Capability string

// Authorizer checks a capability before administrative operations.
type Authorizer interface {
	Authorize(ctx context.Context, c Capability) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, c Capability) error

func (f AuthorizerFunc) Authorize(ctx context.Context, c Capability) error { return f(ctx, c) }

// KeyAuthorizer accepts capabilities matching one of a fixed set of keys.
type KeyAuthorizer struct {
	keys [][]byte
}

func NewKeyAuthorizer(keys []string) *KeyAuthorizer {
	a := &KeyAuthorizer{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *KeyAuthorizer) Authorize(_ context.Context, c Capability) error {
	if c == "" {
		return core.ErrUnauthorized
	}
	given := []byte(c)
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, given) == 1 {
			return nil
		}
	}
	return core.ErrUnauthorized
}

// denyAll is used when no authorizer is configured.
var denyAll = AuthorizerFunc(func(context.Context, Capability) error { return core.ErrUnauthorized })
