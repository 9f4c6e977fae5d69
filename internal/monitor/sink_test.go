package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sercom/internal/model"
)

func TestQueueSink_BackPressure(t *testing.T) {
	queue := NewQueueSink(2)
	ctx := context.Background()

	require.NoError(t, queue.Deliver(ctx, model.Record{Text: "1"}))
	require.NoError(t, queue.Deliver(ctx, model.Record{Text: "2"}))
	assert.Equal(t, 2, queue.Len())

	blocked, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Deliver(blocked, model.Record{Text: "3"}), context.DeadlineExceeded)

	rec, ok := queue.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "1", rec.Text)
	rec, ok = queue.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "2", rec.Text)
	_, ok = queue.TryReceive()
	assert.False(t, ok)
}

func TestMultiSink_DeliversToAll(t *testing.T) {
	first, second := &collectSink{}, &collectSink{}
	failing := SinkFunc(func(context.Context, model.Record) error { return errors.New("observer gone") })

	err := MultiSink{first, failing, second}.Deliver(context.Background(), model.Record{Device: "d", Text: "x"})
	assert.EqualError(t, err, "observer gone")
	assert.Equal(t, []string{"d:x"}, first.Texts())
	assert.Equal(t, []string{"d:x"}, second.Texts())
}
