package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type started struct{ name string }

type finished struct{ name string }

func TestBusDispatchesByType(t *testing.T) {
	b := New()
	var got []string
	SubscribeTo(b, func(_ context.Context, e started) { got = append(got, "start "+e.name) })
	SubscribeTo(b, func(_ context.Context, e finished) { got = append(got, "finish "+e.name) })

	PublishTo(context.Background(), b, started{name: "a"})
	PublishTo(context.Background(), b, finished{name: "a"})

	require.Equal(t, []string{"start a", "finish a"}, got)
}

func TestUnsubscribeRemovesOnlyOwnHandler(t *testing.T) {
	b := New()
	var first, second int
	unsubscribe := SubscribeTo(b, func(context.Context, started) { first++ })
	SubscribeTo(b, func(context.Context, started) { second++ })

	unsubscribe()
	PublishTo(context.Background(), b, started{})

	require.Equal(t, 0, first)
	require.Equal(t, 1, second)
}

func TestGlobalBus(t *testing.T) {
	Use(nil)
	Publish(context.Background(), started{})
	require.NotNil(t, Subscribe(func(context.Context, started) {}))

	b := New()
	Use(b)
	t.Cleanup(func() { Use(nil) })

	var got string
	Subscribe(func(_ context.Context, e started) { got = e.name })
	Publish(context.Background(), started{name: "global"})
	require.Equal(t, "global", got)
}
