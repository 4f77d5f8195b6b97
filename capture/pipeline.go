// Package capture streams microphone audio to the session as PCM16 frames
// while listening is active.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"stride/core"
	"stride/protocol"
	"stride/utils/audio"
)

// Constraints are the microphone settings requested on Start.
type Constraints struct {
	SampleRate       int
	Channels         int
	FrameSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// Microphone is the platform input device. Open may block while the user is
// asked for permission.
type Microphone interface {
	Open(ctx context.Context, constraints Constraints) (Stream, error)
}

// Stream is an open microphone. Read blocks until frame is filled. Close
// releases the device and unblocks a pending Read.
type Stream interface {
	Read(frame []float32) error
	Close() error
}

// Sender is the outbound side of the protocol session.
type Sender interface {
	Connected() bool
	SendBinary(frame []byte) error
	SendControl(msg interface{}) error
}

// Config tunes the pipeline. FrameSize is local only; the peer never sees it.
type Config struct {
	SampleRate       int  `json:"sample_rate"`
	FrameSize        int  `json:"frame_size"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
}

// DefaultConfig returns a Config with a 4096 sample frame at the protocol rate.
func DefaultConfig() Config {
	return Config{
		SampleRate:       audio.SampleRate,
		FrameSize:        4096,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateListening
)

// Pipeline owns at most one capture cycle at a time.
type Pipeline struct {
	config Config
	mic    Microphone
	sender Sender
	logger *core.Logger

	// OnListeningChange fires when listening turns on or off.
	OnListeningChange func(listening bool)
	// OnError receives microphone failures during a live cycle, wrapping
	// core.ErrMicrophoneAccess.
	OnError func(err error)

	mu         sync.Mutex
	state      state
	generation uint64
	stream     Stream
	cancel     context.CancelFunc
	loopDone   chan struct{}
	framesSent atomic.Uint64
}

// NewPipeline creates a Pipeline reading from mic and sending through sender.
func NewPipeline(mic Microphone, sender Sender, config Config, logger *core.Logger) *Pipeline {
	if logger == nil {
		logger = core.GetLogger()
	}
	def := DefaultConfig()
	if config.SampleRate == 0 {
		config.SampleRate = def.SampleRate
	}
	if config.FrameSize <= 0 {
		config.FrameSize = def.FrameSize
	}
	return &Pipeline{
		config: config,
		mic:    mic,
		sender: sender,
		logger: logger.With(map[string]interface{}{"component": "capture"}),
	}
}

// Start acquires the microphone and begins streaming frames. It returns
// core.ErrNotConnected without touching the microphone when the session is
// not connected, and wraps core.ErrMicrophoneAccess when the device cannot
// be opened. Calling Start while listening, or while a Start is already in
// flight, does nothing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != stateIdle {
		p.mu.Unlock()
		p.logger.Debug("start ignored, capture already active")
		return nil
	}
	if !p.sender.Connected() {
		p.mu.Unlock()
		return fmt.Errorf("capture: start: %w", core.ErrNotConnected)
	}
	p.state = stateStarting
	p.generation++
	gen := p.generation
	openCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	stream, err := p.mic.Open(openCtx, Constraints{
		SampleRate:       p.config.SampleRate,
		Channels:         audio.Channels,
		FrameSize:        p.config.FrameSize,
		EchoCancellation: p.config.EchoCancellation,
		NoiseSuppression: p.config.NoiseSuppression,
	})

	p.mu.Lock()
	if p.generation != gen {
		// Stop ran while the microphone was being opened.
		p.mu.Unlock()
		cancel()
		if stream != nil {
			stream.Close()
		}
		return nil
	}
	if err != nil {
		p.state = stateIdle
		p.cancel = nil
		p.mu.Unlock()
		cancel()
		p.logger.With(map[string]interface{}{"error": err}).Warn("failed to open microphone")
		return fmt.Errorf("capture: open microphone: %w: %v", core.ErrMicrophoneAccess, err)
	}
	p.state = stateListening
	p.stream = stream
	p.loopDone = make(chan struct{})
	// The loop waits for started so listening=true is published before any
	// failure can publish listening=false.
	started := make(chan struct{})
	go p.sampleLoop(gen, stream, started, p.loopDone)
	p.mu.Unlock()

	p.logger.With(map[string]interface{}{
		"sample_rate": p.config.SampleRate,
		"frame_size":  p.config.FrameSize,
		"frame_ms":    audio.FrameDuration(p.config.FrameSize*2, p.config.SampleRate).Milliseconds(),
	}).Info("listening")
	p.notifyListening(true)
	close(started)
	return nil
}

// Stop halts sampling, releases the microphone and sends a single
// commit_audio if a capture cycle was live. A Start still waiting on the
// microphone is cancelled and its stream released. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	prev := p.state
	if prev == stateIdle {
		p.mu.Unlock()
		return
	}
	p.generation++
	p.state = stateIdle
	stream := p.stream
	p.stream = nil
	cancel := p.cancel
	p.cancel = nil
	done := p.loopDone
	p.loopDone = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			p.logger.With(map[string]interface{}{"error": err}).Warn("failed to close microphone")
		}
	}
	if done != nil {
		<-done
	}

	if prev != stateListening {
		return
	}
	if p.sender.Connected() {
		if err := p.sender.SendControl(protocol.NewCommitAudio()); err != nil {
			p.logger.With(map[string]interface{}{"error": err}).Warn("failed to send commit_audio")
		}
	}
	p.logger.Info("stopped listening")
	p.notifyListening(false)
}

// Listening reports whether a capture cycle is live.
func (p *Pipeline) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateListening
}

// FramesSent counts binary frames handed to the sender since creation.
func (p *Pipeline) FramesSent() uint64 {
	return p.framesSent.Load()
}

// sampleLoop is the only sender of binary frames. Stop waits for it to exit,
// so no frame follows Stop.
func (p *Pipeline) sampleLoop(gen uint64, stream Stream, started <-chan struct{}, done chan struct{}) {
	defer close(done)
	<-started

	frame := make([]float32, p.config.FrameSize)
	for {
		if err := stream.Read(frame); err != nil {
			p.readFailed(gen, err)
			return
		}
		if !p.emit(gen, audio.EncodeFrame(frame)) {
			return
		}
	}
}

func (p *Pipeline) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == gen && p.state == stateListening
}

// emit sends one frame if gen is still the live cycle. The send happens
// outside mu so a slow socket cannot stall Stop or Listening.
func (p *Pipeline) emit(gen uint64, payload []byte) bool {
	if !p.current(gen) {
		return false
	}
	if !p.sender.Connected() {
		return true
	}
	if err := p.sender.SendBinary(payload); err != nil {
		p.logger.With(map[string]interface{}{"error": err}).Debug("dropped audio frame")
		return true
	}
	p.framesSent.Add(1)
	return true
}

// readFailed ends a live cycle whose device stopped delivering audio. The
// utterance is abandoned, so no commit_audio is sent.
func (p *Pipeline) readFailed(gen uint64, cause error) {
	p.mu.Lock()
	if p.generation != gen || p.state != stateListening {
		// Stop closed the stream; the read error is expected.
		p.mu.Unlock()
		return
	}
	p.generation++
	p.state = stateIdle
	stream := p.stream
	p.stream = nil
	cancel := p.cancel
	p.cancel = nil
	p.loopDone = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}

	p.logger.With(map[string]interface{}{"error": cause}).Warn("microphone read failed")
	p.notifyListening(false)
	if p.OnError != nil {
		p.OnError(fmt.Errorf("capture: read microphone: %w: %v", core.ErrMicrophoneAccess, cause))
	}
}

func (p *Pipeline) notifyListening(listening bool) {
	if p.OnListeningChange != nil {
		p.OnListeningChange(listening)
	}
}
