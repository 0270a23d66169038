package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/tallybot/backend/internal/handlers"
	"github.com/tallybot/backend/internal/models"
)

const msgBusy = "⚠️ Too many commands at once. Please try again in a moment."

// Intents the bot needs: message content for prefix commands and guild
// members for name lookups and permission checks.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers

// Submitter accepts commands for asynchronous handling.
type Submitter interface {
	Handles(name string) bool
	Submit(cmd handlers.Command) error
}

// Bot feeds prefix commands from the gateway into a Submitter.
type Bot struct {
	session  *discordgo.Session
	platform *Platform
	router   Submitter
	prefix   string
}

// NewSession creates an unopened session for a bot token.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents
	return session, nil
}

func NewBot(session *discordgo.Session, platform *Platform, router Submitter, prefix string) *Bot {
	return &Bot{session: session, platform: platform, router: router, prefix: prefix}
}

// Open registers the message handler and connects to the gateway.
func (b *Bot) Open() error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Printf("[Bot] Ready - logged in as %s (%s)", r.User.Username, r.User.ID)
	})
	b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessage(m.Message)
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onMessage(m *discordgo.Message) {
	cmd, ok := b.command(m)
	if !ok {
		return
	}
	if err := b.router.Submit(cmd); err != nil {
		if errors.Is(err, handlers.ErrBusy) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.platform.Reply(ctx, cmd, msgBusy); err != nil {
				log.Printf("[Bot] onMessage - busy reply failed: %v", err)
			}
			return
		}
		log.Printf("[Bot] onMessage - %s not accepted: %v", cmd.Name, err)
	}
}

// command converts a guild message into a Command when it is a prefix
// command the router handles.
func (b *Bot) command(m *discordgo.Message) (handlers.Command, bool) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return handlers.Command{}, false
	}
	name, args, ok := ParseCommand(b.prefix, m.Content)
	if !ok || !b.router.Handles(name) {
		return handlers.Command{}, false
	}
	return handlers.Command{
		ID:        uuid.NewString(),
		Name:      name,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    models.Actor{ID: m.Author.ID, Name: m.Author.Username},
		Args:      args,
	}, true
}
