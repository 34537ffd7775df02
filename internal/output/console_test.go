package output

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/sink"
	"github.com/zxd1994/ecapture/internal/timesync"
)

func TestConsoleReleasesDataEvents(t *testing.T) {
	conv, err := timesync.NewConverter()
	require.NoError(t, err)

	released := make(chan *event.DataEvent, 1)
	c := NewConsole(zaptest.NewLogger(t), conv, false, func(ev *event.DataEvent) {
		released <- ev
	}, nil)

	s := sink.New(4, 4)
	ev := &event.DataEvent{Type: event.TypeWrite, PID: 1, DataLen: 3}
	copy(ev.Data[:], "abc")
	copy(ev.Comm[:], "curl")
	require.True(t, s.PublishData(ev))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, s)

	select {
	case got := <-released:
		assert.Same(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("data event was not released back to the pool")
	}
}

func TestConsoleStopsWhenChannelsClose(t *testing.T) {
	conv, err := timesync.NewConverter()
	require.NoError(t, err)

	c := NewConsole(zaptest.NewLogger(t), conv, false, func(*event.DataEvent) {}, nil)
	s := sink.New(1, 1)

	require.True(t, s.PublishConnection(&event.ConnectionEvent{FD: 3}))
	s.Close()

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), s)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channels closed")
	}
}
