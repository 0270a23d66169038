package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tallybot/backend/internal/audit"
	"github.com/tallybot/backend/internal/bridge"
)

const roleUsage = "role <member> <role>"

type RoleHandler struct {
	audit *audit.AuditLogger
	resolver
}

func NewRoleHandler(platform Platform, b *bridge.Bridge, auditLogger *audit.AuditLogger) *RoleHandler {
	return &RoleHandler{
		audit:    auditLogger,
		resolver: resolver{platform: platform, bridge: b},
	}
}

// Toggle adds the role when the member lacks it and removes it otherwise.
func (h *RoleHandler) Toggle(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) < 2 {
		return "", usageError(roleUsage)
	}
	member, err := h.member(ctx, cmd, cmd.Args[0])
	if err != nil {
		return "", err
	}
	role, err := h.role(ctx, cmd, strings.Join(cmd.Args[1:], " "))
	if err != nil {
		return "", err
	}

	remove := member.HasRole(role.ID)
	err = bridge.Do(ctx, h.bridge, func(ctx context.Context) error {
		if remove {
			return h.platform.RemoveRole(ctx, cmd.GuildID, member.ID, role.ID)
		}
		return h.platform.AddRole(ctx, cmd.GuildID, member.ID, role.ID)
	})
	if err != nil {
		return "", err
	}
	h.audit.LogRoleToggled(ctx, cmd.Author.ID, member, role, !remove)

	if remove {
		return fmt.Sprintf("🔻 Removed role %s from %s", role.Name, member.Mention()), nil
	}
	return fmt.Sprintf("🔺 Added role %s to %s", role.Name, member.Mention()), nil
}
