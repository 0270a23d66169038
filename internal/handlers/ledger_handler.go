package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tallybot/backend/internal/bridge"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/services"
)

const (
	logUsage   = "log <member> <item> <amount> [payment method]"
	logsUsage  = "logs <member>"
	unlogUsage = "unlog <member> <amount|#index>"

	msgNoLogs   = "No transactions found."
	msgNotFound = "❌ Log not found."
)

type LedgerHandler struct {
	ledger *services.LedgerService
	codec  *services.EntryCodec
	resolver
}

func NewLedgerHandler(ledger *services.LedgerService, codec *services.EntryCodec, platform Platform, b *bridge.Bridge) *LedgerHandler {
	return &LedgerHandler{
		ledger:   ledger,
		codec:    codec,
		resolver: resolver{platform: platform, bridge: b},
	}
}

// Log records an entry: log <member> <item...> <amount> [payment...].
func (h *LedgerHandler) Log(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) < 2 {
		return "", usageError(logUsage)
	}
	member, err := h.member(ctx, cmd, cmd.Args[0])
	if err != nil {
		return "", err
	}
	entry, err := h.codec.Entry(member, cmd.Author, cmd.Args[1:])
	if err != nil {
		return "", err
	}

	stored, err := h.ledger.Log(ctx, entry)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Logged %s for %s", stored.Amount.String(), member.Mention())
	if stored.Item != "" {
		fmt.Fprintf(&b, " | Item: %s", stored.Item)
	}
	fmt.Fprintf(&b, " | Payment: %s", stored.PaymentMethod)
	return b.String(), nil
}

// Logs lists a member's entries, numbered from 1 in creation order.
func (h *LedgerHandler) Logs(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", usageError(logsUsage)
	}
	member, err := h.member(ctx, cmd, cmd.Args[0])
	if err != nil {
		return "", err
	}

	entries, err := h.ledger.List(ctx, member.ID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return msgNoLogs, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📒 Logs for %s:\n", member.Mention())
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatEntry(e))
	}
	return b.String(), nil
}

// Unlog removes one entry, either the earliest with the given amount or the
// one at #index of the member's listing.
func (h *LedgerHandler) Unlog(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) != 2 {
		return "", usageError(unlogUsage)
	}
	target := cmd.Args[1]
	if !strings.HasPrefix(target, "#") {
		if _, ok := services.ParseAmount(target); !ok {
			return "", usageError(unlogUsage)
		}
	}

	member, err := h.member(ctx, cmd, cmd.Args[0])
	if err != nil {
		return "", err
	}

	var (
		removed models.LedgerEntry
		found   bool
	)
	if strings.HasPrefix(target, "#") {
		index, convErr := strconv.Atoi(strings.TrimPrefix(target, "#"))
		if convErr != nil {
			return "", usageError(unlogUsage)
		}
		removed, found, err = h.ledger.UnlogIndex(ctx, cmd.Author.ID, member.ID, index)
	} else {
		amount, _ := services.ParseAmount(target)
		removed, found, err = h.ledger.UnlogAmount(ctx, cmd.Author.ID, member.ID, amount)
	}
	if err != nil {
		return "", err
	}
	if !found {
		return msgNotFound, nil
	}
	return fmt.Sprintf("🗑️ Removed log of %s for %s", removed.Amount.String(), member.Mention()), nil
}

func formatEntry(e models.LedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Amount: %s", e.Amount.String())
	if e.Item != "" {
		fmt.Fprintf(&b, " | Item: %s", e.Item)
	}
	fmt.Fprintf(&b, " | Payment: %s", e.PaymentMethod)
	return b.String()
}
