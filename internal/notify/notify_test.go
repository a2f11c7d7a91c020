package notify_test

import (
	"testing"

	"github.com/BananaCrystal/external-crypto-payment/internal/notify"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainsInOrder(t *testing.T) {
	q := notify.NewQueue(2)
	q.Notify(notify.KindInfo, "one")
	q.Notify(notify.KindWarning, "two")
	q.Notify(notify.KindError, "three")

	toasts := q.Drain()
	require.Len(t, toasts, 2)
	require.Equal(t, "two", toasts[0].Message)
	require.Equal(t, notify.KindError, toasts[1].Kind)
	require.Empty(t, q.Drain())
}

func TestMultiFansOut(t *testing.T) {
	rec := &notify.Recorder{}
	q := notify.NewQueue(0)
	m := notify.Multi{rec, q, nil, notify.Log{Logger: slogt.New(t)}}

	m.Notify(notify.KindSuccess, "Payment verified successfully!")

	require.Equal(t, []string{"Payment verified successfully!"}, rec.Messages(notify.KindSuccess))
	require.Len(t, q.Drain(), 1)
}
