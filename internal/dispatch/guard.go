package dispatch

import (
	"context"
	"fmt"

	"wabridge/internal/address"
	"wabridge/internal/domain"
)

// Guard asks the session whether an address has an account. Answers are
// never cached.
type Guard struct {
	gateway domain.SessionGateway
}

func NewGuard(gw domain.SessionGateway) *Guard {
	return &Guard{gateway: gw}
}

func (g *Guard) IsRegistered(ctx context.Context, addr address.Address) (bool, error) {
	ok, err := g.gateway.IsRegisteredUser(ctx, addr.String())
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return ok, nil
}
