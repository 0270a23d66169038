// Package discord binds the command router to a Discord gateway session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/tallybot/backend/internal/handlers"
	"github.com/tallybot/backend/internal/models"
)

// Platform implements handlers.Platform and handlers.Responder on a
// discordgo session. Lookups prefer the session state cache and fall back
// to REST calls.
type Platform struct {
	session *discordgo.Session
}

func NewPlatform(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

func (p *Platform) IsAdmin(ctx context.Context, cmd handlers.Command) (bool, error) {
	perms, err := p.session.State.UserChannelPermissions(cmd.Author.ID, cmd.ChannelID)
	if err != nil {
		perms, err = p.session.UserChannelPermissions(cmd.Author.ID, cmd.ChannelID, discordgo.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("permissions of %s: %w", cmd.Author.ID, err)
		}
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}

func (p *Platform) ResolveMember(ctx context.Context, guildID, ref string) (models.Member, error) {
	if id, ok := userID(ref); ok {
		if m, err := p.session.State.Member(guildID, id); err == nil {
			return toMember(m), nil
		}
		m, err := p.session.GuildMember(guildID, id, discordgo.WithContext(ctx))
		if err != nil {
			return models.Member{}, lookupErr("member", ref, err)
		}
		return toMember(m), nil
	}

	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return models.Member{}, fmt.Errorf("guild %s not cached: %w", guildID, err)
	}
	p.session.State.RLock()
	m := memberByName(guild.Members, ref)
	var member models.Member
	if m != nil {
		member = toMember(m)
	}
	p.session.State.RUnlock()
	if m != nil {
		return member, nil
	}
	return models.Member{}, fmt.Errorf("member %s: %w", ref, handlers.ErrUnknownReference)
}

func (p *Platform) ResolveRole(ctx context.Context, guildID, ref string) (models.Role, error) {
	if id, ok := roleID(ref); ok {
		if r, err := p.session.State.Role(guildID, id); err == nil {
			return toRole(r), nil
		}
	}
	roles, err := p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return models.Role{}, lookupErr("role", ref, err)
	}
	if r := findRole(roles, ref); r != nil {
		return toRole(r), nil
	}
	return models.Role{}, fmt.Errorf("role %s: %w", ref, handlers.ErrUnknownReference)
}

func (p *Platform) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return p.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (p *Platform) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return p.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// Reply sends text to the command's channel, split to fit the message limit.
func (p *Platform) Reply(ctx context.Context, cmd handlers.Command, text string) error {
	for _, chunk := range SplitMessage(text, MessageLimit) {
		if _, err := p.session.ChannelMessageSend(cmd.ChannelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send to %s: %w", cmd.ChannelID, err)
		}
	}
	return nil
}

func toMember(m *discordgo.Member) models.Member {
	member := models.Member{RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		member.ID = m.User.ID
		member.DisplayName = m.User.Username
		if m.User.GlobalName != "" {
			member.DisplayName = m.User.GlobalName
		}
	}
	if m.Nick != "" {
		member.DisplayName = m.Nick
	}
	return member
}

func toRole(r *discordgo.Role) models.Role {
	return models.Role{ID: r.ID, Name: r.Name}
}

// memberByName matches nickname, global name or username, ignoring case.
func memberByName(members []*discordgo.Member, name string) *discordgo.Member {
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.Nick, name) ||
			strings.EqualFold(m.User.GlobalName, name) ||
			strings.EqualFold(m.User.Username, name) {
			return m
		}
	}
	return nil
}

func findRole(roles []*discordgo.Role, ref string) *discordgo.Role {
	if id, ok := roleID(ref); ok {
		for _, r := range roles {
			if r.ID == id {
				return r
			}
		}
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, ref) {
			return r
		}
	}
	return nil
}

func lookupErr(kind, ref string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", kind, ref, handlers.ErrUnknownReference)
	}
	return fmt.Errorf("%s %s: %w", kind, ref, err)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
