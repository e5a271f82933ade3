package goRecover

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/MrEthical07/goRecover/internal/audit"
)

// AuditEvent is one recorded SessionStore outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from the store's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events into a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink = audit.JSONWriterSink

// Audit event types emitted by SessionStore.
const (
	AuditRequest       = "recovery.request"
	AuditResend        = "recovery.resend"
	AuditVerify        = "recovery.verify"
	AuditCommit        = "recovery.commit"
	AuditCancel        = "recovery.cancel"
	AuditStaleResponse = "recovery.stale_response"
	AuditRehydrate     = "recovery.rehydrate"
)

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func (s *SessionStore) emitAudit(ctx context.Context, eventType, email string, epoch uint64, step Step, err error) {
	if s.audit == nil {
		return
	}

	event := AuditEvent{
		EventType: eventType,
		Subject:   audit.MaskEmail(email),
		Success:   err == nil,
		Metadata: map[string]string{
			"step":  step.String(),
			"epoch": strconv.FormatUint(epoch, 10),
		},
	}
	switch {
	case err == nil:
	case errors.Is(err, errStaleResponse):
		event.ErrorKind = "stale"
		event.Error = err.Error()
	default:
		event.ErrorKind = errorInfoFrom(err).Kind.String()
		event.Error = err.Error()
	}

	s.audit.Emit(ctx, event)
}
