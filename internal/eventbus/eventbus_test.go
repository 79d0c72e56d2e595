package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestPublishReachesSubscribersOfType(t *testing.T) {
	b := New()
	var got []int
	Subscribe(b, func(_ context.Context, e ping) { got = append(got, e.n) })
	Subscribe(b, func(_ context.Context, e ping) { got = append(got, e.n*10) })
	Subscribe(b, func(context.Context, pong) { t.Fatal("pong handler called for ping") })

	Publish(context.Background(), b, ping{n: 2})
	require.Equal(t, []int{2, 20}, got)
}

func TestUnsubscribeRemovesOnlyOwnHandler(t *testing.T) {
	b := New()
	var a, c int
	h := func(context.Context, ping) { a++ }
	un1 := Subscribe(b, h)
	Subscribe(b, h)
	Subscribe(b, func(context.Context, ping) { c++ })

	un1()
	un1()
	require.Equal(t, 2, Len[ping](b))

	Publish(context.Background(), b, ping{})
	require.Equal(t, 1, a)
	require.Equal(t, 1, c)
}

func TestNilBus(t *testing.T) {
	var b *Bus
	un := Subscribe(b, func(context.Context, ping) {})
	un()
	Publish(context.Background(), b, ping{})
	require.Zero(t, Len[ping](b))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var (
		mu    sync.Mutex
		count int
	)
	Subscribe(b, func(context.Context, ping) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Publish(context.Background(), b, ping{})
		}()
		go func() {
			defer wg.Done()
			Subscribe(b, func(context.Context, pong) {})()
		}()
	}
	wg.Wait()
	require.Equal(t, 8, count)
}
