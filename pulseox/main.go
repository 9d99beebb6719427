package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/sink"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port for result telemetry (e.g., COM3 or /dev/ttyACM0)")
		configFlag   = flag.String("config", "pulseox.yaml", "Configuration file path")
		recordFlag   = flag.String("record", "", "Record processed sample pairs to a WAV file")
		replayFlag   = flag.String("replay", "", "Replay a WAV recording instead of the synthetic pulse")
		realtimeFlag = flag.Bool("realtime", false, "Pace the simulated board with the wall clock")
		durationFlag = flag.Duration("duration", 0, "Stop after this much (virtual) time, 0 = until interrupted")
		saveFlag     = flag.String("save-config", "", "Write the effective configuration to this file and exit")
		monitorFlag  = flag.Bool("monitor", false, "Print result lines received on the serial port instead of simulating")
		portsFlag    = flag.Bool("ports", false, "List serial ports and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *saveFlag != "" {
		if err := cfg.Save(*saveFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		log.Printf("Configuration written to %s", *saveFlag)
		return
	}

	if *portsFlag {
		ports, err := sink.Ports()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			log.Printf("%s (%s)", p.Name, p.Description)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *monitorFlag {
		err = monitor(ctx, cfg)
	} else {
		err = simulate(ctx, cfg, options{
			record:   *recordFlag,
			replay:   *replayFlag,
			realtime: *realtimeFlag,
			duration: *durationFlag,
		})
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatalf("Stopped: %v", err)
	}
	log.Printf("Shutdown complete")
}
