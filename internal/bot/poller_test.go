package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
)

type pollResult struct {
	updates []telegram.Update
	err     error
}

type fakeSource struct {
	mu             sync.Mutex
	results        []pollResult
	offsets        []int64
	webhookDeleted bool
}

func (f *fakeSource) DeleteWebhook(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookDeleted = true
	return nil
}

func (f *fakeSource) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, int64, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if len(f.results) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, offset, ctx.Err()
	}
	r := f.results[0]
	f.results = f.results[1:]
	f.mu.Unlock()

	next := offset
	for _, u := range r.updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return r.updates, next, r.err
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u telegram.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, u.UpdateID)
	return nil
}

func (d *recordingDispatcher) seen() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

func TestPollerDispatchesAndAdvancesOffset(t *testing.T) {
	src := &fakeSource{results: []pollResult{
		{updates: []telegram.Update{{UpdateID: 10}, {UpdateID: 11}}},
		{err: errors.New("bad gateway")},
		{updates: []telegram.Update{{UpdateID: 12}}},
	}}
	disp := &recordingDispatcher{}
	p := NewPoller(src, disp, time.Second, nil)
	p.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(disp.seen()) == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, disp.seen())
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.webhookDeleted)
	require.GreaterOrEqual(t, len(src.offsets), 3)
	assert.Equal(t, []int64{0, 12, 12}, src.offsets[:3], "a failed poll keeps the offset")
}
