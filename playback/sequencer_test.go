package playback

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/core"
	"stride/utils/audio"
)

// fakeOutput hands each Play to the test, which decides when it finishes.
type fakeOutput struct {
	openErr  error
	playErr  error
	opens    atomic.Int32
	playing  atomic.Int32
	overlap  atomic.Bool
	started  chan playback
	autoDone bool
}

type playback struct {
	id   int16
	done chan struct{}
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{started: make(chan playback, 16)}
}

func (f *fakeOutput) Open(sampleRate int) error {
	f.opens.Add(1)
	return f.openErr
}

func (f *fakeOutput) Play(samples []float32) (<-chan struct{}, error) {
	if f.playErr != nil {
		return nil, f.playErr
	}
	if f.playing.Add(1) > 1 {
		f.overlap.Store(true)
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		<-done
		f.playing.Add(-1)
		close(finished)
	}()
	id := audio.EncodePCM16(samples[:1])[0]
	if f.autoDone {
		close(done)
	}
	f.started <- playback{id: id, done: done}
	return finished, nil
}

func chunk(id int16) []byte {
	return audio.PCM16ToBytes([]int16{id, 0, 0, 0})
}

func nextPlayback(t *testing.T, out *fakeOutput) playback {
	t.Helper()
	select {
	case p := <-out.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
		return playback{}
	}
}

func TestSequencer_PlaysInArrivalOrderWithoutOverlap(t *testing.T) {
	out := newFakeOutput()
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())
	defer seq.Close()

	seq.Enqueue(chunk(1))
	seq.Enqueue(chunk(2))
	seq.Enqueue(chunk(3))
	assert.True(t, seq.Speaking())

	for _, want := range []int16{1, 2, 3} {
		p := nextPlayback(t, out)
		assert.Equal(t, want, p.id)
		assert.True(t, seq.Speaking(), "still speaking while chunk %d plays", want)
		// The next chunk must not start before this one finishes.
		select {
		case extra := <-out.started:
			t.Fatalf("chunk %d started while %d was playing", extra.id, want)
		case <-time.After(20 * time.Millisecond):
		}
		close(p.done)
	}

	require.Eventually(t, func() bool { return !seq.Speaking() }, time.Second, 5*time.Millisecond)
	assert.False(t, out.overlap.Load())
	assert.Equal(t, int32(1), out.opens.Load())
	assert.Equal(t, uint64(3), seq.Played())
}

func TestSequencer_SpeakingCallbacks(t *testing.T) {
	out := newFakeOutput()
	out.autoDone = true
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())
	defer seq.Close()

	var mu sync.Mutex
	var transitions []bool
	seq.OnSpeakingChange = func(speaking bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, speaking)
	}

	seq.Enqueue(chunk(1))
	nextPlayback(t, out)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestSequencer_RestartsAfterDrain(t *testing.T) {
	out := newFakeOutput()
	out.autoDone = true
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())
	defer seq.Close()

	seq.Enqueue(chunk(1))
	assert.Equal(t, int16(1), nextPlayback(t, out).id)
	require.Eventually(t, func() bool { return !seq.Speaking() }, time.Second, 5*time.Millisecond)

	seq.Enqueue(chunk(2))
	assert.Equal(t, int16(2), nextPlayback(t, out).id)
	require.Eventually(t, func() bool { return !seq.Speaking() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), out.opens.Load(), "output is opened once")
}

func TestSequencer_OpenFailureKeepsQueue(t *testing.T) {
	out := newFakeOutput()
	out.openErr = errors.New("no device")
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())
	defer seq.Close()

	errCh := make(chan error, 1)
	seq.OnError = func(err error) { errCh <- err }

	seq.Enqueue(chunk(1))
	seq.Enqueue(chunk(2))

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, core.ErrAudioOutput))
	case <-time.After(2 * time.Second):
		t.Fatal("expected an audio output error")
	}
	require.Eventually(t, func() bool { return !seq.Speaking() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, seq.Pending(), "failed chunk is kept at the head")

	// Output recovers; the next enqueue drains everything in order.
	out.openErr = nil
	out.autoDone = true
	seq.Enqueue(chunk(3))
	for _, want := range []int16{1, 2, 3} {
		assert.Equal(t, want, nextPlayback(t, out).id)
	}
}

func TestSequencer_CloseWakesStalledChunk(t *testing.T) {
	out := newFakeOutput()
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())

	seq.Enqueue(chunk(1))
	nextPlayback(t, out)

	closed := make(chan struct{})
	go func() {
		seq.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stalled chunk")
	}
	assert.False(t, seq.Speaking())

	seq.Enqueue(chunk(2))
	assert.Equal(t, 0, seq.Pending(), "enqueue after close is ignored")
}

func TestSequencer_CloseReportsSpeakingOff(t *testing.T) {
	out := newFakeOutput()
	seq := NewSequencer(out, DefaultConfig(), core.NewNopLogger())

	var mu sync.Mutex
	var transitions []bool
	seq.OnSpeakingChange = func(speaking bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, speaking)
	}

	seq.Enqueue(chunk(1))
	seq.Enqueue(chunk(2))
	nextPlayback(t, out)
	seq.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}
