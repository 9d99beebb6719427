package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/meter"
	"github.com/itohio/pulseox/pkg/presence"
	"github.com/itohio/pulseox/pkg/record"
	"github.com/itohio/pulseox/pkg/sample"
	"github.com/itohio/pulseox/pkg/sim"
	"github.com/itohio/pulseox/pkg/sink"
	"github.com/itohio/pulseox/pkg/timing"
)

type options struct {
	record   string
	replay   string
	realtime bool
	duration time.Duration
}

// simulate runs the meter on the simulated board until ctx is done or the
// configured duration has elapsed.
func simulate(ctx context.Context, cfg *config.Config, opts options) error {
	var scene sim.Scene = sim.NewPulse(&cfg.Mock)
	if opts.replay != "" {
		replay, err := record.Open(opts.replay, cfg.Mock.Ambient)
		if err != nil {
			return err
		}
		log.Printf("Replaying %s (%d frames, %v)", opts.replay, replay.Len(), replay.Duration())
		scene = replay
	}

	board := sim.NewBoard(cfg, scene)
	gen := timing.New(cfg.Timing, board.Timer(hal.IR), board.Timer(hal.Red))
	m, err := meter.New(cfg, board.ADC(), board, board.Power())
	if err != nil {
		return err
	}
	m.Attach(gen)

	publishers := []sink.Publisher{sink.NewWriter(os.Stdout)}
	if cfg.Serial.Port != "" {
		port := sink.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
		if err := port.Connect(); err != nil {
			return err
		}
		defer port.Close()
		publishers = append(publishers, port)
	}

	start := time.Now()
	publish := func(l sink.Line) {
		for _, p := range publishers {
			if err := p.Publish(l); err != nil {
				log.Printf("Failed to publish: %v", err)
			}
		}
	}
	m.OnReading(func(r meter.Result) {
		publish(sink.Line{
			Timestamp: start.Add(board.Now()),
			SpO2:      r.SpO2,
			PulseRate: r.PulseRate,
			State:     r.State,
		})
	})
	m.OnState(func(s presence.State) {
		if b := m.Baseline(); b != nil {
			log.Printf("State %s, ambient %d [%d..%d]", s, b.Ambient(), b.Lower(), b.Upper())
		} else {
			log.Printf("State %s", s)
		}
		if s != presence.Valid {
			publish(sink.Line{Timestamp: start.Add(board.Now()), State: s})
		}
	})

	if opts.record != "" {
		rec, err := record.Create(opts.record, int(cfg.Timing.SampleRate()))
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to close recording: %v", err)
			}
			log.Printf("Recorded %d frames to %s", rec.Frames(), opts.record)
		}()
		m.OnSamples(func(ir, red sample.Pair) {
			if err := rec.Add(ir, red); err != nil {
				log.Printf("Failed to record: %v", err)
			}
		})
	}

	log.Printf("Sampling at %s, duty %s, handler budget %v",
		gen.Frequency(), gen.Duty(), cfg.Sampling.WorstCase())

	if err := gen.Start(); err != nil {
		return err
	}
	defer gen.Stop()

	if opts.realtime {
		err = runRealtime(ctx, cfg, board, m, opts.duration)
	} else {
		err = runLockstep(ctx, cfg, board, m, opts.duration)
	}

	done, abandoned := m.Frames()
	log.Printf("Ran %v: %d expiries, %d frames (%d abandoned), %d dropped samples, max handler time %v, max latency %v",
		board.Now(), board.Expiries(), done, abandoned, m.Dropped(), board.MaxHandlerTime(), board.MaxLatency())
	return err
}

// runLockstep advances virtual time one period at a time and drains the
// meter in between, as fast as the host allows.
func runLockstep(ctx context.Context, cfg *config.Config, board *sim.Board, m *meter.Meter, duration time.Duration) error {
	for duration == 0 || board.Now() < duration {
		if err := ctx.Err(); err != nil {
			return err
		}
		board.Advance(cfg.Timing.Period)
		if err := m.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runRealtime runs the board and the meter loop concurrently, paced by the
// wall clock.
func runRealtime(ctx context.Context, cfg *config.Config, board *sim.Board, m *meter.Meter, duration time.Duration) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := board.Run(ctx, cfg.Timing.Period, true); err != nil {
			fail(fmt.Errorf("board stopped: %w", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.Run(ctx); err != nil {
			fail(fmt.Errorf("meter stopped: %w", err))
		}
	}()
	wg.Wait()
	return runErr
}

// monitor prints result lines sent by a device running the firmware.
func monitor(ctx context.Context, cfg *config.Config) error {
	if cfg.Serial.Port == "" {
		return fmt.Errorf("no serial port configured")
	}

	port := sink.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
	if err := port.Connect(); err != nil {
		return err
	}
	defer port.Close()

	out := sink.NewWriter(os.Stdout)
	lines := port.Lines()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return fmt.Errorf("serial port closed")
			}
			if err := out.Publish(l); err != nil {
				return err
			}
		}
	}
}
