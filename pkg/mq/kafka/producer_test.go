package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer("realtime.analytics", w)

	err := p.Publish(context.Background(), &Message{
		Key:     []byte("u1"),
		Value:   []byte(`{"type":"connect"}`),
		Headers: map[string]string{"event_type": "connect"},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "u1", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.MessagesProduced)
	assert.EqualValues(t, 1, stats.MessagesSucceeded)
	assert.False(t, stats.LastMessageTime.IsZero())
}

func TestProducerFailureAndClose(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer("t", w)

	err := p.PublishBatch(context.Background(), []*Message{{Value: []byte("a")}, {Value: []byte("b")}})
	require.Error(t, err)
	assert.EqualValues(t, 2, p.Stats().MessagesFailed)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), &Message{}), ErrProducerClosed)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrEmptyTopic)

	cfg.Topic = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Brokers = nil
	assert.ErrorIs(t, cfg.Validate(), ErrNoBrokers)
}

func TestTransportSASL(t *testing.T) {
	tr, err := newTransport(&Config{SASL: &SASLConfig{Username: "u", Password: "p"}})
	require.NoError(t, err)
	assert.NotNil(t, tr.SASL)

	tr, err = newTransport(&Config{SASL: &SASLConfig{Mechanism: "scram-sha-512", Username: "u", Password: "p"}})
	require.NoError(t, err)
	assert.NotNil(t, tr.SASL)

	_, err = newTransport(&Config{SASL: &SASLConfig{Mechanism: "GSSAPI", Username: "u"}})
	assert.ErrorIs(t, err, ErrUnsupportedSASL)

	_, err = newTransport(&Config{TLS: &TLSConfig{Enable: true, CAFile: "/nonexistent/ca.pem"}})
	assert.Error(t, err)
}
