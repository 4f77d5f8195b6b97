// Package portaudio backs the capture and playback interfaces with the
// default PortAudio input and output devices.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"stride/capture"
	"stride/core"
)

// OutputFramesPerBuffer is 40ms of audio at 24kHz.
const OutputFramesPerBuffer = 960

var errStreamClosed = errors.New("portaudio: stream closed")

// System owns the PortAudio library lifetime. Create one per process.
type System struct {
	logger *core.Logger
}

// NewSystem initializes PortAudio.
func NewSystem(logger *core.Logger) (*System, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &System{logger: logger.With(map[string]interface{}{"component": "portaudio"})}, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (s *System) Close() error {
	return portaudio.Terminate()
}

// Microphone returns a capture.Microphone using the default input device.
func (s *System) Microphone() *Microphone {
	return &Microphone{logger: s.logger}
}

// Speaker returns a playback.Output using the default output device.
func (s *System) Speaker() *Speaker {
	return &Speaker{logger: s.logger, framesPerBuffer: OutputFramesPerBuffer}
}

// Microphone opens one input stream per capture cycle.
type Microphone struct {
	logger *core.Logger
}

// Open starts a mono input stream. PortAudio has no echo cancellation or
// noise suppression so those constraints are only logged.
func (m *Microphone) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression {
		m.logger.Debug("echo cancellation and noise suppression are not available from PortAudio")
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	buf := make([]float32, c.FrameSize*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(c.SampleRate), c.FrameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	m.logger.With(map[string]interface{}{
		"sample_rate": c.SampleRate,
		"frame_size":  c.FrameSize,
	}).Debug("microphone opened")
	return &inputStream{stream: stream, buf: buf}, nil
}

// deviceStream is the part of *portaudio.Stream used for capture.
type deviceStream interface {
	Read() error
	Abort() error
	Close() error
}

type inputStream struct {
	stream deviceStream
	buf    []float32

	// readMu is held across the blocking device read. Close never waits on
	// it before aborting the stream.
	readMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Read blocks for one buffer and copies it into frame.
func (s *inputStream) Read(frame []float32) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.closed.Load() {
		return errStreamClosed
	}
	err := s.stream.Read()
	if s.closed.Load() {
		return errStreamClosed
	}
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return fmt.Errorf("portaudio: read: %w", err)
	}
	n := copy(frame, s.buf)
	clear(frame[n:])
	return nil
}

// Close aborts the stream, which releases the device and ends a pending
// Read, then frees the stream once that Read has returned.
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		abortErr := s.stream.Abort()

		s.readMu.Lock()
		defer s.readMu.Unlock()
		s.closeErr = errors.Join(abortErr, s.stream.Close())
	})
	return s.closeErr
}

// Speaker plays chunks on one output stream opened on first use.
type Speaker struct {
	logger          *core.Logger
	framesPerBuffer int

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []float32
	closed bool
}

// Open starts the output stream. Calling it again is a no-op.
func (s *Speaker) Open(sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if s.stream != nil {
		return nil
	}

	out := make([]float32, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), s.framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	s.stream = stream
	s.out = out
	s.logger.With(map[string]interface{}{"sample_rate": sampleRate}).Debug("speaker opened")
	return nil
}

// Play writes samples in the background; the returned channel closes once
// the last buffer has been handed to the device.
func (s *Speaker) Play(samples []float32) (<-chan struct{}, error) {
	s.mu.Lock()
	ready := s.stream != nil && !s.closed
	s.mu.Unlock()
	if !ready {
		return nil, errStreamClosed
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, block := range splitPadded(samples, s.framesPerBuffer) {
			if err := s.write(block); err != nil {
				if !errors.Is(err, errStreamClosed) {
					s.logger.With(map[string]interface{}{"error": err}).Warn("speaker write failed")
				}
				return
			}
		}
	}()
	return done, nil
}

func (s *Speaker) write(block []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stream == nil {
		return errStreamClosed
	}
	copy(s.out, block)
	if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return err
	}
	return nil
}

// Close stops the output stream.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream == nil {
		return nil
	}
	return errors.Join(s.stream.Stop(), s.stream.Close())
}

// splitPadded cuts samples into n-sized blocks, zero-padding the last one.
func splitPadded(samples []float32, n int) [][]float32 {
	if n <= 0 || len(samples) == 0 {
		return nil
	}
	blocks := make([][]float32, 0, (len(samples)+n-1)/n)
	for i := 0; i < len(samples); i += n {
		block := make([]float32, n)
		copy(block, samples[i:min(i+n, len(samples))])
		blocks = append(blocks, block)
	}
	return blocks
}
