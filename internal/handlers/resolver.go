package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/tallybot/backend/internal/bridge"
	"github.com/tallybot/backend/internal/models"
)

// resolver looks up platform references through the bridge and turns misses
// into user errors.
type resolver struct {
	platform Platform
	bridge   *bridge.Bridge
}

func (r resolver) member(ctx context.Context, cmd Command, ref string) (models.Member, error) {
	m, err := bridge.Run(ctx, r.bridge, func(ctx context.Context) (models.Member, error) {
		return r.platform.ResolveMember(ctx, cmd.GuildID, ref)
	})
	if errors.Is(err, ErrUnknownReference) {
		return models.Member{}, &UserError{Message: fmt.Sprintf("❌ Member %s not found.", ref)}
	}
	return m, err
}

func (r resolver) role(ctx context.Context, cmd Command, ref string) (models.Role, error) {
	role, err := bridge.Run(ctx, r.bridge, func(ctx context.Context) (models.Role, error) {
		return r.platform.ResolveRole(ctx, cmd.GuildID, ref)
	})
	if errors.Is(err, ErrUnknownReference) {
		return models.Role{}, &UserError{Message: fmt.Sprintf("❌ Role %s not found.", ref)}
	}
	return role, err
}
