package app

import (
	"errors"
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStartsServersAndShutdownClosesInReverse(t *testing.T) {
	a := NewBaseApp(WithName("test"), WithLogger(logger.NewNoop()), WithStopTimeout(time.Second))

	var order []string
	started := make(chan struct{})
	a.AppendServer(ServerFuncs{
		StartFunc: func() error { close(started); return nil },
		StopFunc:  func() error { return nil },
	})
	a.AppendCloser(CloserFunc(func() error { order = append(order, "first"); return nil }))
	a.AppendCloser(CloserFunc(func() error { order = append(order, "second"); return errors.New("ignored") }))

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	<-started
	require.NoError(t, a.Shutdown())
	require.NoError(t, <-done)

	assert.Equal(t, []string{"second", "first"}, order)
	assert.Error(t, a.Context().Err())
	assert.ErrorIs(t, a.Run(), ErrAppAlreadyRunning)
}

func TestRunStopsWhenServerFailsToStart(t *testing.T) {
	a := NewBaseApp(WithLogger(logger.NewNoop()))
	boom := errors.New("listen failed")
	a.AppendServer(ServerFuncs{StartFunc: func() error { return boom }})

	assert.ErrorIs(t, a.Run(), boom)
}

func TestLoggerFallsBackToNamedAppLogger(t *testing.T) {
	a := NewBaseApp(WithLogger(logger.NewNoop()))
	assert.NotNil(t, a.Logger("audit"))
}
