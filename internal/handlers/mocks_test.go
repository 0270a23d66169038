package handlers

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/tallybot/backend/internal/models"
)

type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) IsAdmin(ctx context.Context, cmd Command) (bool, error) {
	args := m.Called(ctx, cmd)
	return args.Bool(0), args.Error(1)
}

func (m *MockPlatform) ResolveMember(ctx context.Context, guildID, ref string) (models.Member, error) {
	args := m.Called(ctx, guildID, ref)
	return args.Get(0).(models.Member), args.Error(1)
}

func (m *MockPlatform) ResolveRole(ctx context.Context, guildID, ref string) (models.Role, error) {
	args := m.Called(ctx, guildID, ref)
	return args.Get(0).(models.Role), args.Error(1)
}

func (m *MockPlatform) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	args := m.Called(ctx, guildID, userID, roleID)
	return args.Error(0)
}

func (m *MockPlatform) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	args := m.Called(ctx, guildID, userID, roleID)
	return args.Error(0)
}

type reply struct {
	CommandID string
	Text      string
}

// recordingResponder collects replies and signals each one on ch.
type recordingResponder struct {
	mu      sync.Mutex
	replies []reply
	ch      chan reply
}

func newRecordingResponder() *recordingResponder {
	return &recordingResponder{ch: make(chan reply, 64)}
}

func (r *recordingResponder) Reply(ctx context.Context, cmd Command, text string) error {
	rep := reply{CommandID: cmd.ID, Text: text}
	r.mu.Lock()
	r.replies = append(r.replies, rep)
	r.mu.Unlock()
	r.ch <- rep
	return nil
}
