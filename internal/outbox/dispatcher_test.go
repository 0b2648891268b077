package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahay/backend/internal/core"
)

type memStore struct {
	messages map[string]*core.OutboundMessage
	order    []string
}

func newMemStore() *memStore {
	return &memStore{messages: map[string]*core.OutboundMessage{}}
}

func (m *memStore) add(id, channel string, attempts int) {
	m.messages[id] = &core.OutboundMessage{
		ID: id, Channel: channel, Payload: []byte(`{"template":"x"}`),
		Status: core.MessagePending, Attempts: attempts, CreatedAt: time.Now(),
	}
	m.order = append(m.order, id)
}

func (m *memStore) ClaimPendingMessages(ctx context.Context, limit int) ([]core.OutboundMessage, error) {
	var out []core.OutboundMessage
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.Status == core.MessagePending && len(out) < limit {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) MarkMessage(ctx context.Context, id string, status core.MessageStatus, attempts int) error {
	msg := m.messages[id]
	msg.Status = status
	msg.Attempts = attempts
	return nil
}

type memRunner struct{ store *memStore }

func (r *memRunner) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(r.store)
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, channel string, userID *string, payload json.RawMessage) error {
	if f.fail {
		return errors.New("gateway timeout")
	}
	f.sent = append(f.sent, channel)
	return nil
}

func TestDispatchDeliversAndMarksSent(t *testing.T) {
	store := newMemStore()
	store.add("m-1", "sms", 0)
	store.add("m-2", "sms", 0)

	d := NewDispatcher(&memRunner{store: store})
	sender := &fakeSender{}
	d.RegisterSender("sms", sender)

	n, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, core.MessageSent, store.messages["m-1"].Status)
	assert.Equal(t, 1, store.messages["m-1"].Attempts)
}

func TestDispatchFailureStaysPending(t *testing.T) {
	store := newMemStore()
	store.add("m-1", "sms", 0)

	d := NewDispatcher(&memRunner{store: store})
	d.RegisterSender("sms", &fakeSender{fail: true})

	n, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, core.MessagePending, store.messages["m-1"].Status)
	assert.Equal(t, 1, store.messages["m-1"].Attempts)
}

func TestDispatchParksAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	store.add("m-1", "sms", maxAttempts-1)

	d := NewDispatcher(&memRunner{store: store})
	d.RegisterSender("sms", &fakeSender{fail: true})

	_, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.MessageFailed, store.messages["m-1"].Status)
	assert.Equal(t, maxAttempts, store.messages["m-1"].Attempts)
}

func TestDispatchSkipsUnknownChannel(t *testing.T) {
	store := newMemStore()
	store.add("m-1", "carrier_pigeon", 0)

	d := NewDispatcher(&memRunner{store: store})
	d.RegisterSender("sms", &fakeSender{})

	n, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, core.MessagePending, store.messages["m-1"].Status)
	assert.Zero(t, store.messages["m-1"].Attempts, "untouched until a sender exists")
}
