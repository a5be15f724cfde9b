package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezury/walletsync/internal/domain"
)

// fakeFeed is an in-memory domain.MarketFeed that lets tests push snapshots
// directly into the registered handler.
type fakeFeed struct {
	mu      sync.Mutex
	handler func(domain.BookSnapshot)
	subs    []string
	unsubs  []string
}

func (f *fakeFeed) Connect(ctx context.Context) error { return nil }

func (f *fakeFeed) Subscribe(ctx context.Context, market string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, market)
	return nil
}

func (f *fakeFeed) Unsubscribe(ctx context.Context, market string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, market)
	return nil
}

func (f *fakeFeed) OnBook(handler func(domain.BookSnapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) push(snap domain.BookSnapshot) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(snap)
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// collector records forwarded snapshots.
type collector struct {
	mu    sync.Mutex
	snaps []domain.BookSnapshot
}

func (c *collector) sink(snap domain.BookSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *collector) last() domain.BookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func book(market string, mid float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Market:    market,
		Bids:      []domain.BookLevel{{Price: mid, Size: 1}},
		Asks:      []domain.BookLevel{{Price: mid, Size: 1}},
		Timestamp: time.Now().UTC(),
	}
}

func newTestSubscriber(t *testing.T, window time.Duration) (*Subscriber, *fakeFeed, *collector) {
	t.Helper()
	f := &fakeFeed{}
	s := NewSubscriber(f, window, slog.New(slog.DiscardHandler))
	c := &collector{}
	s.OnForward(c.sink)
	return s, f, c
}

func TestWatchFirstSnapshotClearsLoading(t *testing.T) {
	s, f, c := newTestSubscriber(t, time.Hour)

	require.NoError(t, s.Watch(context.Background(), "XAUT"))
	assert.Equal(t, StateStreaming, s.State())
	assert.True(t, s.Loading())

	f.push(book("XAUT", 2400))

	assert.False(t, s.Loading())
	assert.Equal(t, 1, c.count())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "XAUT", cur.Market)
}

func TestConfirmedEmptyBookIsForwarded(t *testing.T) {
	s, f, c := newTestSubscriber(t, time.Hour)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))

	// No prior snapshot: an empty book is real state, not flicker, and it
	// still clears the loading flag.
	f.push(domain.BookSnapshot{Market: "XAUT", Timestamp: time.Now()})

	assert.False(t, s.Loading())
	assert.Equal(t, 1, c.count())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.True(t, cur.Empty())
}

func TestEmptyAfterNonEmptyIsDropped(t *testing.T) {
	s, f, c := newTestSubscriber(t, time.Millisecond)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))

	f.push(book("XAUT", 2400))
	time.Sleep(5 * time.Millisecond)
	f.push(domain.BookSnapshot{Market: "XAUT", Timestamp: time.Now()})
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, c.count(), "transient empty must not be forwarded")
	cur, ok := s.Current()
	require.True(t, ok)
	assert.False(t, cur.Empty(), "retained book survives the gap")
}

func TestThrottleForwardsLatestSample(t *testing.T) {
	const window = 60 * time.Millisecond
	s, f, c := newTestSubscriber(t, window)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))

	// First push forwards immediately; the burst inside the window is
	// coalesced into one trailing forward carrying the newest sample.
	f.push(book("XAUT", 2400))
	f.push(book("XAUT", 2401))
	f.push(book("XAUT", 2402))
	f.push(book("XAUT", 2403))
	assert.Equal(t, 1, c.count())

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2403.0, c.last().BestBid())
}

func TestWatchSwitchTearsDownPrevious(t *testing.T) {
	s, f, c := newTestSubscriber(t, time.Hour)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))
	f.push(book("XAUT", 2400))

	require.NoError(t, s.Watch(context.Background(), "PAXG"))

	f.mu.Lock()
	subs, unsubs := f.subs, f.unsubs
	f.mu.Unlock()
	assert.Equal(t, []string{"XAUT", "PAXG"}, subs)
	assert.Equal(t, []string{"XAUT"}, unsubs)

	// State reset for the new market.
	assert.True(t, s.Loading())
	_, ok := s.Current()
	assert.False(t, ok)

	// A late push from the old market is discarded.
	f.push(book("XAUT", 2500))
	assert.Equal(t, 1, c.count())
	assert.True(t, s.Loading())

	f.push(book("PAXG", 2600))
	assert.Equal(t, 2, c.count())
	assert.Equal(t, "PAXG", c.last().Market)
}

func TestWatchSameMarketIsNoop(t *testing.T) {
	s, f, _ := newTestSubscriber(t, time.Hour)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))
	require.NoError(t, s.Watch(context.Background(), "XAUT"))

	assert.Equal(t, 1, f.subscribeCount())
}

func TestWatchRejectsEmptyMarket(t *testing.T) {
	s, _, _ := newTestSubscriber(t, time.Hour)
	assert.ErrorIs(t, s.Watch(context.Background(), ""), domain.ErrInvalidInput)
}

func TestStopDiscardsLatePushes(t *testing.T) {
	s, f, c := newTestSubscriber(t, time.Hour)
	require.NoError(t, s.Watch(context.Background(), "XAUT"))
	f.push(book("XAUT", 2400))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateUnsubscribed, s.State())

	f.push(book("XAUT", 2500))
	assert.Equal(t, 1, c.count())
}
