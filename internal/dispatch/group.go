package dispatch

import (
	"context"
	"fmt"
	"strings"

	"wabridge/internal/domain"
)

// Resolver turns a GroupRef into a canonical group chat id.
type Resolver struct {
	gateway domain.SessionGateway
}

func NewResolver(gw domain.SessionGateway) *Resolver {
	return &Resolver{gateway: gw}
}

// Resolve returns ref.ID untouched when set. Otherwise it lists the session's
// chats and returns the first group whose name matches case-insensitively.
// A miss yields *domain.GroupNotFoundError.
func (r *Resolver) Resolve(ctx context.Context, ref domain.GroupRef) (string, error) {
	if ref.ByID() {
		return ref.ID, nil
	}

	chats, err := r.gateway.GetChats(ctx)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}
	for _, c := range chats {
		if c.IsGroup() && strings.EqualFold(c.Name(), ref.Name) {
			return c.ID(), nil
		}
	}
	return "", &domain.GroupNotFoundError{Name: ref.Name}
}
