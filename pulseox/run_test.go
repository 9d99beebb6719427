package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/record"
)

func TestSimulate_RecordThenReplay(t *testing.T) {
	cfg := config.Default()
	capture := filepath.Join(t.TempDir(), "capture.wav")

	err := simulate(context.Background(), cfg, options{record: capture, duration: 3 * time.Second})
	require.NoError(t, err)

	info, err := os.Stat(capture)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))

	replay, err := record.Open(capture, cfg.Mock.Ambient)
	require.NoError(t, err)
	assert.InDelta(t, (3 * time.Second).Seconds(), replay.Duration().Seconds(), 0.1)

	err = simulate(context.Background(), cfg, options{replay: capture, duration: time.Second})
	assert.NoError(t, err)
}

func TestSimulate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := simulate(ctx, config.Default(), options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulate_Realtime(t *testing.T) {
	err := simulate(context.Background(), config.Default(), options{realtime: true, duration: 200 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulate_MissingReplay(t *testing.T) {
	err := simulate(context.Background(), config.Default(), options{replay: filepath.Join(t.TempDir(), "none.wav")})
	assert.Error(t, err)
}

func TestMonitor_NoPort(t *testing.T) {
	assert.Error(t, monitor(context.Background(), config.Default()))
}
