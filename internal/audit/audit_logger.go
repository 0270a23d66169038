// Package audit writes the operator-facing trail of ledger mutations and
// failures as JSON lines on the standard logger.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tallybot/backend/internal/models"
)

type commandKey struct{}

// WithCommandID tags ctx with the id of the command being handled.
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandKey{}, id)
}

// CommandID returns the command id carried by ctx, or "".
func CommandID(ctx context.Context) string {
	id, _ := ctx.Value(commandKey{}).(string)
	return id
}

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	CommandID string    `json:"command_id,omitempty"`
	EntryID   string    `json:"entry_id,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type AuditLogger struct {
	now func() time.Time
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{now: time.Now}
}

func (a *AuditLogger) LogEntryCreated(ctx context.Context, entry models.LedgerEntry) {
	a.log(AuditEvent{
		EventType: "ENTRY_CREATED",
		CommandID: CommandID(ctx),
		EntryID:   entry.ID,
		SubjectID: entry.SubjectID,
		ActorID:   entry.LoggedBy,
		Amount:    entry.Amount.String(),
		Status:    "SUCCESS",
		Details: map[string]string{
			"item":           entry.Item,
			"payment_method": entry.PaymentMethod,
		},
	})
}

func (a *AuditLogger) LogEntryRemoved(ctx context.Context, actorID string, entry models.LedgerEntry) {
	a.log(AuditEvent{
		EventType: "ENTRY_REMOVED",
		CommandID: CommandID(ctx),
		EntryID:   entry.ID,
		SubjectID: entry.SubjectID,
		ActorID:   actorID,
		Amount:    entry.Amount.String(),
		Status:    "SUCCESS",
	})
}

func (a *AuditLogger) LogRoleToggled(ctx context.Context, actorID string, member models.Member, role models.Role, added bool) {
	op := "ROLE_REMOVED"
	if added {
		op = "ROLE_ADDED"
	}
	a.log(AuditEvent{
		EventType: op,
		CommandID: CommandID(ctx),
		SubjectID: member.ID,
		ActorID:   actorID,
		Status:    "SUCCESS",
		Details:   map[string]string{"role_id": role.ID, "role_name": role.Name},
	})
}

func (a *AuditLogger) LogError(ctx context.Context, command, subjectID string, err error) {
	a.log(AuditEvent{
		EventType: "ERROR",
		CommandID: CommandID(ctx),
		SubjectID: subjectID,
		Status:    "FAILED",
		Details:   map[string]string{"command": command, "error": err.Error()},
	})
}

func (a *AuditLogger) LogPanic(ctx context.Context, command string, value any, stack []byte) {
	a.log(AuditEvent{
		EventType: "PANIC",
		CommandID: CommandID(ctx),
		Status:    "FAILED",
		Details: map[string]any{
			"command": command,
			"panic":   value,
			"stack":   string(stack),
		},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	event.Timestamp = a.now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("AUDIT: marshal %s event: %v", event.EventType, err)
		return
	}
	log.Printf("AUDIT: %s", string(data))
}
