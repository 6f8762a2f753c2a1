package numstock_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasetyo/numstock"
)

func TestWatcher_WaitForStock(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)

	watcher, err := numstock.NewWatcher(numstock.WatcherConfig{
		DB:     db,
		Logger: discardLogger(),
	})
	require.NoError(t, err, "failed to create watcher")

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	listenErrs := make(chan error, 1)
	go func() {
		listenErrs <- watcher.Listen(listenCtx)
	}()

	// A waiter for the ingested provider is woken. The listener may still
	// be connecting when the first batch commits, so keep appending until
	// the wake-up arrives.
	waitCtx, cancelWait := context.WithTimeout(ctx, 30*time.Second)
	defer cancelWait()
	woken := make(chan error, 1)
	go func() {
		woken <- watcher.WaitForStock(waitCtx, provider)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	seq := 0
poll:
	for {
		select {
		case err := <-woken:
			require.NoError(t, err, "waiter should be woken by ingest")
			break poll
		case <-ticker.C:
			seq++
			ingestAt(t, pool, []string{fmt.Sprintf("%s%07d", prefix, seq)}, time.Now())
		case err := <-listenErrs:
			t.Fatalf("listener stopped unexpectedly: %v", err)
		case <-waitCtx.Done():
			t.Fatal("waiter was never woken by ingest notification")
		}
	}

	// The listener is demonstrably running, so a second Listen must refuse.
	err = watcher.Listen(listenCtx)
	require.ErrorContains(t, err, "already listening")

	// A waiter for another provider is not woken by this provider's stock.
	otherProvider := numstock.Provider(string(provider) + "x")
	otherCtx, cancelOther := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancelOther()
	otherWoken := make(chan error, 1)
	go func() {
		otherWoken <- watcher.WaitForStock(otherCtx, otherProvider)
	}()

	seq++
	ingestAt(t, pool, []string{fmt.Sprintf("%s%07d", prefix, seq)}, time.Now())

	select {
	case err := <-otherWoken:
		require.ErrorIs(t, err, context.DeadlineExceeded,
			"waiter for another provider should time out, not wake")
	case <-time.After(10 * time.Second):
		t.Fatal("waiter did not return after its context deadline")
	}
}

func TestNewWatcher_Validates(t *testing.T) {
	t.Parallel()

	_, err := numstock.NewWatcher(numstock.WatcherConfig{})
	require.ErrorIs(t, err, numstock.ErrInvalidConfig)
}
