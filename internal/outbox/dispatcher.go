// Package outbox drains the transactional outbox. Domain code enqueues
// notifications inside its own transaction; the dispatcher claims pending
// rows afterwards and hands them to a delivery channel, so a crashed sender
// never loses a message and a rolled-back transaction never sends one.
package outbox

import (
	"context"
	"encoding/json"
	"log"

	"github.com/sahay/backend/internal/core"
)

// maxAttempts before a message is parked as failed for manual review.
const maxAttempts = 5

// defaultBatch rows claimed per dispatch pass.
const defaultBatch = 50

// Store is the outbox surface of the database layer.
type Store interface {
	ClaimPendingMessages(ctx context.Context, limit int) ([]core.OutboundMessage, error)
	MarkMessage(ctx context.Context, id string, status core.MessageStatus, attempts int) error
}

// Runner executes fn transactionally so the claim's row locks hold until the
// batch is marked.
type Runner interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Sender delivers one message over a channel (sms, push). Implementations
// return an error to have the message retried on a later pass.
type Sender interface {
	Send(ctx context.Context, channel string, userID *string, payload json.RawMessage) error
}

// LogSender is the development delivery path: it logs instead of sending.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, channel string, userID *string, payload json.RawMessage) error {
	uid := "system"
	if userID != nil {
		uid = *userID
	}
	log.Printf("outbox: [%s] to %s: %s", channel, uid, payload)
	return nil
}

type Dispatcher struct {
	runner  Runner
	senders map[string]Sender
	batch   int
}

func NewDispatcher(runner Runner) *Dispatcher {
	return &Dispatcher{
		runner:  runner,
		senders: map[string]Sender{},
		batch:   defaultBatch,
	}
}

// RegisterSender binds a delivery channel. Messages on channels without a
// sender stay pending until one is registered.
func (d *Dispatcher) RegisterSender(channel string, s Sender) {
	d.senders[channel] = s
}

// Dispatch claims one batch of pending messages and attempts delivery. It
// returns the number delivered. Claim and mark share a transaction so SKIP
// LOCKED keeps concurrent dispatchers off the same rows.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	sent := 0
	err := d.runner.InTx(ctx, func(s Store) error {
		msgs, err := s.ClaimPendingMessages(ctx, d.batch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			sender, ok := d.senders[m.Channel]
			if !ok {
				continue
			}
			attempts := m.Attempts + 1
			if err := sender.Send(ctx, m.Channel, m.UserID, m.Payload); err != nil {
				log.Printf("outbox: send %s on %s failed (attempt %d): %v", m.ID, m.Channel, attempts, err)
				status := core.MessagePending
				if attempts >= maxAttempts {
					status = core.MessageFailed
				}
				if err := s.MarkMessage(ctx, m.ID, status, attempts); err != nil {
					return err
				}
				continue
			}
			if err := s.MarkMessage(ctx, m.ID, core.MessageSent, attempts); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	return sent, err
}
