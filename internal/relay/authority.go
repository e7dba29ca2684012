package relay

import (
	"context"

	"github.com/pscheid92/keyrelay/internal/domain"
)

// Authorizer decides whether a connection may act as master of a group.
//
// Authorize is called on the ingress goroutine for every master-flagged message
// before it reaches the engine; Release is called after the connection
// disconnected while holding master.
type Authorizer interface {
	Authorize(ctx context.Context, ref domain.GroupRef, connID string) (bool, error)
	Release(ctx context.Context, ref domain.GroupRef, connID string) error
}

// AllowAll grants master to any sender: the last writer wins.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, domain.GroupRef, string) (bool, error) { return true, nil }

func (AllowAll) Release(context.Context, domain.GroupRef, string) error { return nil }
