package hostlimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameHostIsSpaced(t *testing.T) {
	l := New(time.Millisecond * 100)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://store.example.com/p/1"))
	require.NoError(t, l.Wait(ctx, "https://store.example.com/p/2"))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, time.Millisecond*90)
}

func TestDifferentHostsAreIndependent(t *testing.T) {
	l := New(time.Second * 5)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/p"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com/p"))
	require.NoError(t, l.Wait(ctx, "https://c.example.com/p"))
	elapsed := time.Since(start)

	require.Less(t, elapsed, time.Second)
}

func TestZeroDelayIsNoop(t *testing.T) {
	l := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "https://store.example.com/p"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestUnparsableURLPassesThrough(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.Wait(context.Background(), "not a url"))
}
