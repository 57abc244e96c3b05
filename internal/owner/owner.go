// Package owner tracks the single administrator allowed to mutate the ledger.
package owner

import (
	"fmt"
	"sync"

	"foodledger/internal/model"
)

// Guard holds the current administrator identity.
// It always holds exactly one non-null identity.
type Guard struct {
	mu    sync.RWMutex
	admin model.Identity
}

// New initializes the guard with the initializing party as administrator.
func New(initializer model.Identity) (*Guard, error) {
	if initializer.IsZero() {
		return nil, fmt.Errorf("%w: null initializer", model.ErrInvalidArgument)
	}
	return &Guard{admin: initializer}, nil
}

// Owner returns the current administrator.
func (g *Guard) Owner() model.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admin
}

// RequireAdministrator fails with ErrUnauthorized unless caller is the administrator.
func (g *Guard) RequireAdministrator(caller model.Identity) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.requireAdministrator(caller)
}

func (g *Guard) requireAdministrator(caller model.Identity) error {
	if caller.IsZero() || caller != g.admin {
		return fmt.Errorf("%w: %q is not the administrator", model.ErrUnauthorized, caller)
	}
	return nil
}

// CheckTransfer validates a transfer without performing it.
func (g *Guard) CheckTransfer(caller, next model.Identity) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checkTransfer(caller, next)
}

// checkTransfer requires next to be an identity a caller can present, so the
// ledger can never be handed to a party nobody can act as.
func (g *Guard) checkTransfer(caller, next model.Identity) error {
	if err := g.requireAdministrator(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return fmt.Errorf("%w: null administrator", model.ErrInvalidArgument)
	}
	parsed, err := model.ParseIdentity(next.String())
	if err != nil {
		return err
	}
	if parsed != next {
		return fmt.Errorf("%w: identity %q has surrounding whitespace", model.ErrInvalidArgument, next)
	}
	return nil
}

// TransferOwnership hands administration to next; caller loses it at once.
func (g *Guard) TransferOwnership(caller, next model.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkTransfer(caller, next); err != nil {
		return err
	}
	g.admin = next
	return nil
}
