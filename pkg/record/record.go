// Package record captures processed sample pairs as a 4-channel WAV file and
// plays them back as a simulation scene.
package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/sample"
	"github.com/itohio/pulseox/pkg/sim"
)

// ErrFormat is returned for files that are not pulseox recordings.
var ErrFormat = errors.New("invalid recording format")

const (
	numChannels = 4 // IR DC, IR AC, Red DC, Red AC
	bitDepth    = 16
	pcmFormat   = 1
	flushFrames = 256
	midRail     = 2048
)

// Recorder writes sample pairs to a WAV stream.
type Recorder struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	closer io.Closer
	frames int
	err    error
}

// NewRecorder writes pairs taken at sampleRate Hz to w.
func NewRecorder(w io.WriteSeeker, sampleRate int) *Recorder {
	return &Recorder{
		enc: wav.NewEncoder(w, sampleRate, bitDepth, numChannels, pcmFormat),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: numChannels, SampleRate: sampleRate},
			Data:           make([]int, 0, flushFrames*numChannels),
			SourceBitDepth: bitDepth,
		},
	}
}

// Create records into a new file.
func Create(filename string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r := NewRecorder(f, sampleRate)
	r.closer = f
	return r, nil
}

// Add appends one frame. The first write error is kept and returned by every
// later call.
func (r *Recorder) Add(ir, red sample.Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.buf.Data = append(r.buf.Data, int(ir.DC), int(ir.AC), int(red.DC), int(red.AC))
	r.frames++
	if len(r.buf.Data) >= flushFrames*numChannels {
		r.err = r.flush()
	}
	return r.err
}

// Frames returns the number of frames added.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close flushes buffered frames and finalises the WAV header.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.err
	if err == nil {
		err = r.flush()
	}
	if cerr := r.enc.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finalise recording: %w", cerr)
	}
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil && cerr != nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}

func (r *Recorder) flush() error {
	if len(r.buf.Data) == 0 {
		return nil
	}
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	r.buf.Data = r.buf.Data[:0]
	return nil
}

// Replay plays a recording back through the simulated ADC. Frame k is
// returned for any time within the k-th sampling period; playback loops.
type Replay struct {
	frames  [][numChannels]uint16
	period  time.Duration
	ambient uint16
}

var _ sim.Scene = (*Replay)(nil)

// Load decodes a recording. ambient is returned for reads with the LED off.
func Load(r io.ReadSeeker, ambient uint16) (*Replay, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a WAV file", ErrFormat)
	}
	if dec.NumChans != numChannels || dec.BitDepth != bitDepth || dec.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels, %d bits at %d Hz", ErrFormat, dec.NumChans, dec.BitDepth, dec.SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode recording: %w", err)
	}
	if len(buf.Data) < numChannels {
		return nil, fmt.Errorf("%w: no frames", ErrFormat)
	}

	frames := make([][numChannels]uint16, len(buf.Data)/numChannels)
	for i := range frames {
		for c := 0; c < numChannels; c++ {
			v := buf.Data[i*numChannels+c]
			if v < 0 || v > 0xffff {
				return nil, fmt.Errorf("%w: value %d out of range", ErrFormat, v)
			}
			frames[i][c] = uint16(v)
		}
	}

	return &Replay{
		frames:  frames,
		period:  time.Second / time.Duration(dec.SampleRate),
		ambient: ambient,
	}, nil
}

// Open loads a recording from a file.
func Open(filename string, ambient uint16) (*Replay, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return Load(f, ambient)
}

// Len returns the number of frames.
func (r *Replay) Len() int { return len(r.frames) }

// Duration returns the playback time before the recording loops.
func (r *Replay) Duration() time.Duration {
	return time.Duration(len(r.frames)) * r.period
}

// Pair returns the recorded pair of a channel in frame i.
func (r *Replay) Pair(i int, ch hal.Channel) sample.Pair {
	f := r.frames[i%len(r.frames)]
	if ch == hal.Red {
		return sample.Pair{DC: f[2], AC: f[3]}
	}
	return sample.Pair{DC: f[0], AC: f[1]}
}

// Level implements sim.Scene.
func (r *Replay) Level(ch hal.Channel, in hal.Input, at time.Duration, lit bool) uint16 {
	if !lit {
		if in == hal.DC {
			return r.ambient
		}
		return midRail
	}

	p := r.Pair(int(at/r.period), ch)
	if in == hal.DC {
		return p.DC
	}
	return p.AC
}
