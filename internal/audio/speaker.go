package audio

import (
	"errors"
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("audio sink closed")

// Speaker is a Sink that plays blocks on the default output device. Only
// one Speaker may be open at a time.
type Speaker struct {
	// QueueLength is the number of blocks that may be queued ahead of the
	// block being played. Zero means 1.
	QueueLength int

	format Format
	queue  chan [][2]float64
	done   chan struct{}
	// closeOnce is replaced on every Open, so one Speaker can play several
	// songs in a row with an Open and Close around each.
	closeOnce *sync.Once

	// Only accessed from the speaker goroutine.
	current [][2]float64
}

var _ Sink = (*Speaker)(nil)

// Open initializes the output device for the given format. A closed Speaker
// may be opened again.
func (s *Speaker) Open(f Format, chunkSize int) error {
	queueLen := s.QueueLength
	if queueLen < 1 {
		queueLen = 1
	}

	if err := speaker.Init(beep.SampleRate(f.SampleRate), chunkSize); err != nil {
		return err
	}

	s.format = f
	s.queue = make(chan [][2]float64, queueLen)
	s.done = make(chan struct{})
	s.closeOnce = new(sync.Once)
	s.current = nil

	speaker.Play(beep.StreamerFunc(s.stream))
	return nil
}

// Write queues one block for playback. It blocks while the queue is full,
// which paces the caller to the playback rate.
func (s *Speaker) Write(block []int16) error {
	frames := make([][2]float64, len(block)/s.format.Channels)
	for i := range frames {
		if s.format.Channels == 1 {
			v := FromInt16(block[i])
			frames[i] = [2]float64{v, v}
		} else {
			frames[i] = [2]float64{
				FromInt16(block[i*s.format.Channels]),
				FromInt16(block[i*s.format.Channels+1]),
			}
		}
	}

	select {
	case <-s.done:
		return ErrClosed
	case s.queue <- frames:
		return nil
	}
}

// stream feeds queued frames to the speaker. It plays silence while the
// queue is empty rather than stalling the mixer.
func (s *Speaker) stream(samples [][2]float64) (int, bool) {
	var n int
	for n < len(samples) {
		if len(s.current) == 0 {
			select {
			case s.current = <-s.queue:
			default:
				clear(samples[n:])
				return len(samples), true
			}
		}

		copied := copy(samples[n:], s.current)
		s.current = s.current[copied:]
		n += copied
	}
	return n, true
}

// Close stops playback and releases the output device.
func (s *Speaker) Close() error {
	if s.closeOnce == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.done)
		speaker.Clear()
		speaker.Close()
	})
	return nil
}

// Discard is a Sink that drops every block without pacing.
type Discard struct{}

var _ Sink = Discard{}

func (Discard) Open(Format, int) error { return nil }
func (Discard) Write([]int16) error    { return nil }
func (Discard) Close() error           { return nil }
