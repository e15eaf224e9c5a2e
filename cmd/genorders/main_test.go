package main

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	msgs  []kafkago.Message
	calls int
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, msgs ...kafkago.Message) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestGenerate_ValidRequests(t *testing.T) {
	pub := &recordingPublisher{}
	sent, err := generate(context.Background(), pub, "orders", 25, 10, 0, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 25, sent)
	assert.Equal(t, 3, pub.calls)

	for _, m := range pub.msgs {
		req, err := orders.DecodeRequest(m.Value, orders.DecodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, req.OrderID, string(m.Key))
		assert.Equal(t, "orders", m.Topic)
	}
}

func TestGenerate_AllMalformed(t *testing.T) {
	pub := &recordingPublisher{}
	_, err := generate(context.Background(), pub, "orders", 8, 100, 1, 0, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, pub.msgs, 8)
	for _, m := range pub.msgs {
		_, err := orders.DecodeRequest(m.Value, orders.DecodeOptions{})
		assert.ErrorIs(t, err, orders.ErrMalformed)
	}
}

func TestGenerate_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("down")}
	sent, err := generate(context.Background(), pub, "orders", 5, 2, 0, 0, zerolog.Nop())
	require.Error(t, err)
	assert.Zero(t, sent)
}
