package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	var topic Topic[string]
	var got []string

	unsubA := topic.Subscribe(func(s string) { got = append(got, "a:"+s) })
	topic.Subscribe(func(s string) { got = append(got, "b:"+s) })
	require.Equal(t, 2, topic.Len())

	topic.Publish("one")
	unsubA()
	unsubA()
	topic.Publish("two")

	require.Equal(t, []string{"a:one", "b:one", "b:two"}, got)
	require.Equal(t, 1, topic.Len())
}

func TestTopicConcurrentPublish(t *testing.T) {
	var topic Topic[int]
	var mu sync.Mutex
	sum := 0
	topic.Subscribe(func(i int) {
		mu.Lock()
		sum += i
		mu.Unlock()
	})

	wg := sync.WaitGroup{}
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic.Publish(i)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 5050, sum)
}

func TestTopicSubscribeDuringPublish(t *testing.T) {
	var topic Topic[int]
	calls := 0
	topic.Subscribe(func(int) {
		calls++
		topic.Subscribe(func(int) { calls++ })
	})

	topic.Publish(1)
	require.Equal(t, 1, calls)
	require.Equal(t, 2, topic.Len())
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	var h Handler[int, int]

	_, err := h.Call(ctx, 1)
	require.ErrorIs(t, err, ErrNoHandler)
	require.False(t, h.Registered())

	h.Register(func(_ context.Context, i int) int { return i * 2 })
	res, err := h.Call(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, 42, res)

	h.Register(func(_ context.Context, i int) int { return i + 1 })
	res, err = h.Call(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, res)
}
