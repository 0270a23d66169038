package services

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"
	"github.com/tallybot/backend/internal/audit"
	"github.com/tallybot/backend/internal/bridge"
	"github.com/tallybot/backend/internal/models"
	"github.com/tallybot/backend/internal/storage"
)

// ErrPingUnsupported is returned by Ping when the store cannot check its
// backend.
var ErrPingUnsupported = errors.New("store does not support ping")

// LedgerService runs every store call through the bridge so callers on the
// command loop never block on storage I/O.
type LedgerService struct {
	store  storage.LedgerStore
	bridge *bridge.Bridge
	audit  *audit.AuditLogger
}

func NewLedgerService(store storage.LedgerStore, b *bridge.Bridge, auditLogger *audit.AuditLogger) *LedgerService {
	return &LedgerService{store: store, bridge: b, audit: auditLogger}
}

func (s *LedgerService) Log(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	stored, err := bridge.Run(ctx, s.bridge, func(ctx context.Context) (models.LedgerEntry, error) {
		return s.store.Insert(ctx, entry)
	})
	if err != nil {
		log.Printf("[LedgerService] Log - insert for subject %s failed: %v", entry.SubjectID, err)
		return models.LedgerEntry{}, err
	}
	s.audit.LogEntryCreated(ctx, stored)
	return stored, nil
}

func (s *LedgerService) List(ctx context.Context, subjectID string) ([]models.LedgerEntry, error) {
	entries, err := bridge.Run(ctx, s.bridge, func(ctx context.Context) ([]models.LedgerEntry, error) {
		return s.store.ListBySubject(ctx, subjectID)
	})
	if err != nil {
		log.Printf("[LedgerService] List - subject %s failed: %v", subjectID, err)
		return nil, err
	}
	return entries, nil
}

type removal struct {
	entry models.LedgerEntry
	found bool
}

// UnlogAmount removes the subject's earliest entry with the given amount.
func (s *LedgerService) UnlogAmount(ctx context.Context, actorID, subjectID string, amount decimal.Decimal) (models.LedgerEntry, bool, error) {
	return s.remove(ctx, actorID, subjectID, func(ctx context.Context) (removal, error) {
		e, ok, err := s.store.DeleteByMatch(ctx, subjectID, storage.MatchAmount(amount))
		return removal{e, ok}, err
	})
}

// UnlogIndex removes the entry at the 1-based position of the subject's
// listing.
func (s *LedgerService) UnlogIndex(ctx context.Context, actorID, subjectID string, index int) (models.LedgerEntry, bool, error) {
	return s.remove(ctx, actorID, subjectID, func(ctx context.Context) (removal, error) {
		e, ok, err := s.store.DeleteByIndex(ctx, subjectID, index)
		return removal{e, ok}, err
	})
}

func (s *LedgerService) remove(ctx context.Context, actorID, subjectID string, op func(context.Context) (removal, error)) (models.LedgerEntry, bool, error) {
	res, err := bridge.Run(ctx, s.bridge, op)
	if err != nil {
		log.Printf("[LedgerService] Unlog - subject %s failed: %v", subjectID, err)
		return models.LedgerEntry{}, false, err
	}
	if res.found {
		s.audit.LogEntryRemoved(ctx, actorID, res.entry)
	}
	return res.entry, res.found, nil
}

// Ping checks backend connectivity through the bridge.
func (s *LedgerService) Ping(ctx context.Context) error {
	p, ok := s.store.(storage.Pinger)
	if !ok {
		return ErrPingUnsupported
	}
	return bridge.Do(ctx, s.bridge, p.Ping)
}
