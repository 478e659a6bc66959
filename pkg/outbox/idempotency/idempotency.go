package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"

	// Long enough for one SMTP round trip; a worker that dies mid-send frees
	// the event for redelivery once it lapses.
	defaultClaimTTL = 10 * time.Minute
)

type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Ledger tracks which outbox events a consumer has handled so a redelivered
// Pub/Sub message does not send a second email. An event is claimed while
// it is processed and marked done for the retention window afterwards.
type Ledger struct {
	store     claimStore
	retention time.Duration
	claimTTL  time.Duration
}

func NewLedger(store claimStore, retention time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if retention < 0 {
		return nil, errors.New("retention must be non-negative")
	}
	claimTTL := defaultClaimTTL
	if retention > 0 && retention < claimTTL {
		claimTTL = retention
	}
	return &Ledger{store: store, retention: retention, claimTTL: claimTTL}, nil
}

// Claim reports whether the caller now owns eventID for consumer. False
// means another delivery is processing it or already finished it.
func (l *Ledger) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	ok, err := l.store.SetNX(ctx, key, stateProcessing, l.claimTTL)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Complete turns a claim into a done marker kept for the retention window.
func (l *Ledger) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, stateDone, l.retention)
}

// Release drops the claim so the event can be handled again.
func (l *Ledger) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

// key is <ns>:idempotency:events|<consumer>:<event_id>.
func (l *Ledger) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return l.store.IdempotencyKey("events|"+consumer, eventID.String()), nil
}
