package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-gin-event-attendance/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *model.AttendanceRecorded {
	return &model.AttendanceRecorded{
		EventID:       uuid.New(),
		ParticipantID: uuid.New(),
		Generation:    2,
		Source:        model.AttendanceSourceBulk,
		MarkedBy:      uuid.New(),
		RecordedAt:    time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
		Backfilled:    true,
	}
}

func TestMemoryAttendanceQueue_PublishAndSubscribe(t *testing.T) {
	q := NewMemoryAttendanceQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := sampleEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	delCh, err := q.SubscribeAttendance(ctx)
	require.NoError(t, err)

	select {
	case d := <-delCh:
		assert.Equal(t, event, d.Data)
		d.Ack()
	case <-ctx.Done():
		t.Fatal("timeout 未收到訊息")
	}
}

func TestMemoryAttendanceQueue_Full(t *testing.T) {
	q := NewMemoryAttendanceQueue(1)
	ctx := context.Background()

	require.NoError(t, q.PublishAttendance(ctx, sampleEvent()))
	err := q.PublishAttendance(ctx, sampleEvent())
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryAttendanceQueue_NackRequeue(t *testing.T) {
	q := NewMemoryAttendanceQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := sampleEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	delCh, err := q.SubscribeAttendance(ctx)
	require.NoError(t, err)

	first := <-delCh
	first.Nack(true)

	select {
	case d := <-delCh:
		assert.Equal(t, event, d.Data)
	case <-ctx.Done():
		t.Fatal("timeout 未收到重新入列的訊息")
	}
}

func TestEncodeDecodeAttendance(t *testing.T) {
	event := sampleEvent()

	body, err := encodeAttendance(event)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"source":"bulk"`)
	assert.Contains(t, string(body), `"backfilled":true`)

	decoded, err := decodeAttendance(body)
	require.NoError(t, err)
	assert.Equal(t, event.ParticipantID, decoded.ParticipantID)

	_, err = decodeAttendance([]byte("not json"))
	assert.Error(t, err)
}

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
	err      error
}

func (f *fakeAcknowledger) Ack(bool) error {
	f.acked = true
	return f.err
}

func (f *fakeAcknowledger) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return f.err
}

func TestWrapAMQPMessage(t *testing.T) {
	body, err := encodeAttendance(sampleEvent())
	require.NoError(t, err)

	t.Run("ack", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		d := wrapAMQPMessage(body, 1, ack)
		require.NotNil(t, d)
		d.Ack()
		assert.True(t, ack.acked)
	})

	t.Run("nack requeue", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		d := wrapAMQPMessage(body, 2, ack)
		require.NotNil(t, d)
		d.Nack(true)
		assert.True(t, ack.nacked)
		assert.True(t, ack.requeued)
	})

	t.Run("malformed body rejected without requeue", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		d := wrapAMQPMessage([]byte("{"), 3, ack)
		assert.Nil(t, d)
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeued)
	})

	t.Run("ack error is logged", func(t *testing.T) {
		ack := &fakeAcknowledger{err: errors.New("channel closed")}
		d := wrapAMQPMessage(body, 4, ack)
		require.NotNil(t, d)
		assert.NotPanics(t, d.Ack)
	})
}
