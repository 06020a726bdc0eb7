// Package translog wires pkg/tee's in-memory hash chain to durable storage:
// every event is signed and chained inside the enclave first, then mirrored
// to Postgres for query, with an on-disk fallback file so a transient store
// outage never silently drops an already-chained event. It also builds the
// periodic Merkle-rooted checkpoints spec.md §4.5.5 describes, grounded on
// original_source/gateway/tee/merkle.py and original_source/gateway/tasks
// (the hourly batching task that calls build_checkpoint/clear_buffer).
package translog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/canonical"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/tee"
)

// EventAppender persists the durable mirror of a signed log entry.
// *database.TransparencyRepository satisfies this.
type EventAppender interface {
	Append(ctx context.Context, e *database.TransparencyEvent) (*database.TransparencyEvent, error)
}

// Logger implements pkg/validation.EventLogger (and the equivalent ports
// used by pkg/epoch, pkg/tasks) over a single Enclave and its durable
// Postgres mirror.
type Logger struct {
	enclave  *tee.Enclave
	events   EventAppender
	fallback *FileFallback
	logger   zerolog.Logger
}

// NewLogger builds a Logger. fallback may be nil to disable the local
// durable-fallback file (tests, or deployments that accept the narrow
// at-most-once-durability window instead).
func NewLogger(enclave *tee.Enclave, events EventAppender, fallback *FileFallback, logger zerolog.Logger) *Logger {
	return &Logger{
		enclave:  enclave,
		events:   events,
		fallback: fallback,
		logger:   logger.With().Str("component", "translog").Logger(),
	}
}

// LogEvent canonicalizes payload, signs and chains it inside the enclave,
// then persists the durable mirror row. The enclave's in-memory chain has
// already advanced by the time this returns regardless of outcome — a
// durable-write failure cannot be retried with the same event without
// forking the chain, so it is reported as a CodeInvariant failure and
// additionally appended to the local fallback file as an audit backstop.
func (l *Logger) LogEvent(ctx context.Context, eventType database.EventType, payload interface{}) error {
	canon, err := canonical.JSON(payload)
	if err != nil {
		return gatewayerr.Invariant("canonicalize event payload", err)
	}

	entry, err := l.enclave.AppendEvent(string(eventType), canon)
	if err != nil {
		return err
	}

	row, err := toRow(entry)
	if err != nil {
		return gatewayerr.Invariant("decode signed log entry", err)
	}

	if _, err := l.events.Append(ctx, row); err != nil {
		if l.fallback != nil {
			if ferr := l.fallback.Append(entry); ferr != nil {
				l.logger.Error().Err(ferr).Str("event_type", string(eventType)).Msg("durable mirror write failed AND fallback file write failed")
			} else {
				l.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("durable mirror write failed, event preserved in fallback file")
			}
		}
		return gatewayerr.Invariant(fmt.Sprintf("persist %s event", eventType), err)
	}

	return nil
}

func toRow(entry canonical.LogEntry) (*database.TransparencyEvent, error) {
	var prevHash []byte
	if entry.SignedEvent.PrevEventHash != "" {
		h, err := hex.DecodeString(entry.SignedEvent.PrevEventHash)
		if err != nil {
			return nil, err
		}
		prevHash = h
	}
	eventHash, err := hex.DecodeString(entry.EventHash)
	if err != nil {
		return nil, err
	}
	pubkey, err := hex.DecodeString(entry.EnclavePubkey)
	if err != nil {
		return nil, err
	}
	signature, err := hex.DecodeString(entry.EnclaveSignature)
	if err != nil {
		return nil, err
	}

	return &database.TransparencyEvent{
		EventType:        database.EventType(entry.SignedEvent.EventType),
		BootID:           entry.SignedEvent.BootID,
		MonotonicSeq:     entry.SignedEvent.MonotonicSeq,
		PrevEventHash:    prevHash,
		Timestamp:        entry.SignedEvent.Timestamp,
		Payload:          json.RawMessage(entry.SignedEvent.Payload),
		EventHash:        eventHash,
		EnclavePubkey:    pubkey,
		EnclaveSignature: signature,
	}, nil
}
