package handlers

import (
	"context"
	"errors"

	"github.com/tallybot/backend/internal/models"
)

// ErrUnknownReference is wrapped by Platform lookups that find nothing.
var ErrUnknownReference = errors.New("unknown reference")

// Command is one chat command as received from the platform.
type Command struct {
	ID        string
	Name      string
	GuildID   string
	ChannelID string
	Author    models.Actor
	Args      []string
}

// Platform is the chat platform as seen by the handlers. Every method may
// block on network I/O and is called through the bridge.
type Platform interface {
	IsAdmin(ctx context.Context, cmd Command) (bool, error)
	ResolveMember(ctx context.Context, guildID, ref string) (models.Member, error)
	ResolveRole(ctx context.Context, guildID, ref string) (models.Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// Responder delivers reply text to the channel a command came from.
type Responder interface {
	Reply(ctx context.Context, cmd Command, text string) error
}

// UserError is a failure caused by the command's input. Message is shown to
// the user as is.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

func usageError(usage string) error {
	return &UserError{Message: "❌ Usage: `" + usage + "`"}
}
