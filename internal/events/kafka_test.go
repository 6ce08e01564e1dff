package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posoffice/backend/internal/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherKeysBySaleID(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w}

	event := domain.SaleEvent{
		ID:         "evt_1",
		Type:       domain.SaleEventVoided,
		SaleID:     "sale_1",
		BusinessID: "biz-1",
		Status:     string(domain.SaleStatusVoided),
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "sale_1", string(msg.Key))
	assert.Equal(t, event.OccurredAt, msg.Time)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, domain.SaleEventVoided, string(msg.Headers[0].Value))

	var decoded domain.SaleEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.SaleID, decoded.SaleID)
	assert.Equal(t, event.Type, decoded.Type)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}}

	err := p.Publish(context.Background(), domain.SaleEvent{ID: "evt_2", SaleID: "sale_2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
