package pipeline

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-pipeline/internal/observability"
)

const noTurn = -1

// EmitFunc plays one result. An error is a transport failure.
type EmitFunc func(SynthesisResult) error

// Sequencer releases synthesis results for the active turn strictly in
// chunk order. Results for any other turn are dropped.
type Sequencer struct {
	mu      sync.Mutex
	emit    EmitFunc
	active  int
	next    int
	pending map[int]SynthesisResult

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewSequencer returns a sequencer with no active turn.
func NewSequencer(emit EmitFunc, logger zerolog.Logger, metrics *observability.Metrics) *Sequencer {
	return &Sequencer{
		emit:    emit,
		active:  noTurn,
		pending: make(map[int]SynthesisResult),
		logger:  logger,
		metrics: metrics,
	}
}

// Begin makes turnIndex the active turn, starting at chunk 0. Buffered
// results of the previous turn are discarded and their count returned.
func (s *Sequencer) Begin(turnIndex int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	discarded := s.resetLocked()
	s.active = turnIndex
	return discarded
}

// Abandon drops the active turn. Nothing is emitted until the next Begin.
func (s *Sequencer) Abandon() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	discarded := s.resetLocked()
	s.active = noTurn
	return discarded
}

func (s *Sequencer) resetLocked() int {
	discarded := len(s.pending)
	for i := 0; i < discarded; i++ {
		s.metrics.RecordChunk("discarded")
	}
	s.pending = make(map[int]SynthesisResult)
	s.next = 0
	return discarded
}

// Submit buffers r and emits every result that is now at the front of the
// sequence. Empty results advance the cursor without emitting. It returns the
// number of emitted results and the first emit error.
func (s *Sequencer) Submit(r SynthesisResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.TurnIndex != s.active {
		s.metrics.RecordChunk("discarded")
		s.logger.Debug().
			Int("turn", r.TurnIndex).
			Int("chunk", r.ChunkIndex).
			Int("active_turn", s.active).
			Msg("Dropping result of inactive turn")
		return 0, nil
	}
	if _, dup := s.pending[r.ChunkIndex]; dup || r.ChunkIndex < s.next {
		s.logger.Warn().
			Int("turn", r.TurnIndex).
			Int("chunk", r.ChunkIndex).
			Msg("Dropping duplicate result")
		return 0, nil
	}
	s.pending[r.ChunkIndex] = r

	emitted := 0
	for {
		front, ok := s.pending[s.next]
		if !ok {
			return emitted, nil
		}
		delete(s.pending, s.next)
		s.next++

		if front.Empty() {
			s.metrics.RecordChunk("skipped")
			continue
		}
		if err := s.emit(front); err != nil {
			return emitted, err
		}
		s.metrics.RecordChunk("emitted")
		emitted++
	}
}

// Pending returns the number of buffered results waiting on a predecessor.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Active returns the active turn, if any.
func (s *Sequencer) Active() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != noTurn
}

// NextExpected returns the chunk index the sequencer is waiting for.
func (s *Sequencer) NextExpected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
