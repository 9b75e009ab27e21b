package syncstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/servicetracker/internal/records"
)

// ErrNothingToSend is returned by Flush when the scope has no records.
var ErrNothingToSend = errors.New("no records to send")

// Sender delivers records downstream. A nil error means the receiver has
// acknowledged every record passed in.
type Sender interface {
	Send(ctx context.Context, recs []records.Record) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recs []records.Record) error

func (f SenderFunc) Send(ctx context.Context, recs []records.Record) error { return f(ctx, recs) }

// FlushResult reports one outbound run.
type FlushResult struct {
	Sent   int
	Marked int64
}

// Outbox sends records through a Sender and marks them afterwards.
type Outbox struct {
	m *Machine
}

func NewOutbox(m *Machine) *Outbox {
	return &Outbox{m: m}
}

// Flush sends the unreported records in scope (every record when all is
// set) and marks the sent ones reported only after sender succeeds. A failed
// send leaves every flag untouched, so a retry resends the same records.
func (o *Outbox) Flush(ctx context.Context, scope Scope, all bool, sender Sender) (FlushResult, error) {
	var (
		recs []records.Record
		err  error
	)
	if all {
		recs, err = o.m.SelectAll(ctx, scope)
	} else {
		recs, err = o.m.SelectUnreported(ctx, scope)
	}
	if err != nil {
		return FlushResult{}, err
	}
	if len(recs) == 0 {
		return FlushResult{}, ErrNothingToSend
	}

	if err := sender.Send(ctx, recs); err != nil {
		o.m.log.Warn(ctx, "send failed, nothing marked", "records", len(recs), "error", err)
		return FlushResult{}, fmt.Errorf("send: %w", err)
	}

	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	n, err := o.m.MarkReported(ctx, ids)
	if err != nil {
		return FlushResult{Sent: len(recs)}, err
	}
	return FlushResult{Sent: len(recs), Marked: n}, nil
}
