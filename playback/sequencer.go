// Package playback plays inbound PCM16 chunks one at a time, in arrival order.
package playback

import (
	"fmt"
	"sync"

	"stride/core"
	"stride/utils/audio"
)

// Output is the platform speaker. Open is called once before the first chunk.
// Play submits one chunk and returns a channel that is closed when the chunk
// has finished playing.
type Output interface {
	Open(sampleRate int) error
	Play(samples []float32) (<-chan struct{}, error)
}

// Config tunes the sequencer.
type Config struct {
	SampleRate int `json:"sample_rate"`
}

// DefaultConfig returns a Config using the protocol sample rate.
func DefaultConfig() Config {
	return Config{SampleRate: audio.SampleRate}
}

// Sequencer serializes playback of queued chunks so only one plays at a time.
// Speaking is true from the first Enqueue until the queue has drained and the
// last chunk has finished.
type Sequencer struct {
	config Config
	output Output
	logger *core.Logger

	// OnSpeakingChange fires on every transition of Speaking.
	OnSpeakingChange func(speaking bool)
	// OnError receives non-fatal output failures wrapping core.ErrAudioOutput.
	OnError func(err error)

	notifyMu sync.Mutex
	notified bool

	mu       sync.Mutex
	queue    [][]byte
	running  bool
	opened   bool
	closed   bool
	closeCh  chan struct{}
	loopDone chan struct{}
	played   uint64
}

// NewSequencer creates a Sequencer that plays through output.
func NewSequencer(output Output, config Config, logger *core.Logger) *Sequencer {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.SampleRate == 0 {
		config.SampleRate = audio.SampleRate
	}
	return &Sequencer{
		config:  config,
		output:  output,
		logger:  logger.With(map[string]interface{}{"component": "playback"}),
		closeCh: make(chan struct{}),
	}
}

// Enqueue appends chunk to the queue and starts draining if idle. Chunks are
// never dropped or reordered.
func (s *Sequencer) Enqueue(chunk []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.loopDone = make(chan struct{})
	done := s.loopDone
	s.mu.Unlock()

	s.notifySpeaking()
	go s.loop(done)
}

// Speaking reports whether a chunk is playing or waiting to play. After an
// output failure it reads false while the failed chunk stays queued; the next
// Enqueue resumes playback and Speaking turns true again.
func (s *Sequencer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pending is the number of chunks not yet handed to the output.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Played is the number of chunks that finished playing.
func (s *Sequencer) Played() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Close stops the loop, waking a chunk that is still playing, and waits for
// it to exit. Queued chunks are discarded with the sequencer.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closeCh)
	done := s.loopDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Sequencer) loop(done chan struct{}) {
	defer close(done)

	for {
		chunk, ok := s.next()
		if !ok {
			return
		}

		if err := s.play(chunk); err != nil {
			// Keep the chunk at the head so the next Enqueue replays it.
			s.mu.Lock()
			s.queue = append([][]byte{chunk}, s.queue...)
			s.running = false
			s.mu.Unlock()

			s.logger.With(map[string]interface{}{"error": err, "pending": s.Pending()}).Warn("playback stopped")
			s.notifySpeaking()
			if s.OnError != nil {
				s.OnError(err)
			}
			return
		}
	}
}

// next pops the head of the queue, or marks the loop idle when it is empty.
func (s *Sequencer) next() ([]byte, bool) {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 {
		s.running = false
		played := s.played
		s.mu.Unlock()
		s.logger.With(map[string]interface{}{"played": played}).Debug("playback idle")
		s.notifySpeaking()
		return nil, false
	}
	chunk := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.mu.Unlock()
	return chunk, true
}

func (s *Sequencer) play(chunk []byte) error {
	if !s.opened {
		if err := s.output.Open(s.config.SampleRate); err != nil {
			return fmt.Errorf("playback: open output: %w: %v", core.ErrAudioOutput, err)
		}
		s.opened = true
	}

	finished, err := s.output.Play(audio.DecodeFrame(chunk))
	if err != nil {
		return fmt.Errorf("playback: play chunk: %w: %v", core.ErrAudioOutput, err)
	}

	select {
	case <-finished:
		s.mu.Lock()
		s.played++
		s.mu.Unlock()
	case <-s.closeCh:
	}
	return nil
}

// notifySpeaking reports the current state rather than the caller's view of
// it, so a loop exiting while the next one starts cannot publish a stale false.
func (s *Sequencer) notifySpeaking() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	speaking := s.Speaking()
	if speaking == s.notified {
		return
	}
	s.notified = speaking
	if s.OnSpeakingChange != nil {
		s.OnSpeakingChange(speaking)
	}
}
