package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	err   error
	calls []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.calls = append(f.calls, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"taken", "feed_down"}, discard())

	require.NoError(t, n.Notify(context.Background(), EventTaken, "took", ""))
	require.NoError(t, n.Notify(context.Background(), EventMade, "made", ""))
	require.NoError(t, n.Notify(context.Background(), EventFeedDown, "down", ""))

	assert.Equal(t, []string{"took", "down"}, s.calls)
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), EventUpstreamError, "upstream", ""))
	assert.Equal(t, []string{"upstream"}, s.calls)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventTaken, "took", "details")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"took"}, good.calls, "a dead channel must not silence the rest")
}
