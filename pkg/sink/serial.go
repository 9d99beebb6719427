package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the telemetry baud rate.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the size of the received lines buffer.
	DefaultBufferSize = 100
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial publishes readings to a serial port. Lines received on the same
// port, for example from a device running the firmware, are delivered on
// Lines.
type Serial struct {
	port     string
	baudRate int

	mu        sync.RWMutex
	conn      serial.Port
	lines     chan Line
	cancel    context.CancelFunc
	connected bool
}

var _ Publisher = (*Serial)(nil)

// NewSerial creates a serial sink for the named port.
func NewSerial(port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
	}
}

// Connect opens the port and starts reading lines.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.lines = make(chan Line, DefaultBufferSize)
	s.connected = true

	go readInto(ctx, conn, s.lines)
	return nil
}

// Close closes the port. Lines is closed once the reader has stopped.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.cancel()
	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	s.conn = nil
	s.connected = false
	return nil
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Lines returns the channel of lines received since the last Connect.
// It is nil before the first Connect.
func (s *Serial) Lines() <-chan Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines
}

// Publish implements Publisher.
func (s *Serial) Publish(l Line) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return ErrNotConnected
	}
	if _, err := s.conn.Write([]byte(FormatLine(l) + "\n")); err != nil {
		return fmt.Errorf("failed to send line: %w", err)
	}
	return nil
}

// readInto forwards parsed lines to out without blocking and closes out when
// r is exhausted or ctx is done.
func readInto(ctx context.Context, r io.Reader, out chan<- Line) {
	defer close(out)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic in readInto: %v", rec)
		}
	}()

	err := ReadLines(ctx, r, func(l Line) {
		select {
		case out <- l:
		case <-ctx.Done():
		default:
			log.Printf("Lines channel full, dropping line")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}
