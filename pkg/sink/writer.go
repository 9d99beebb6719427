package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// ErrNotConnected is returned when publishing to a closed sink.
var ErrNotConnected = errors.New("not connected")

// Publisher accepts readings.
type Publisher interface {
	Publish(l Line) error
}

// Writer publishes lines to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Publisher = (*Writer)(nil)

// NewWriter creates a writer publisher.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Publish implements Publisher.
func (w *Writer) Publish(l Line) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, FormatLine(l)+"\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// ReadLines parses lines from r until EOF or ctx is done and passes every
// valid one to fn. Unparsable lines are logged and skipped.
func ReadLines(ctx context.Context, r io.Reader, fn func(Line)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		l, err := ParseLine(text)
		if err != nil {
			log.Printf("Failed to parse line '%s': %v", text, err)
			continue
		}
		fn(l)
	}
	return scanner.Err()
}
