package voice

import (
	"context"
	"log"
	"sync"

	"mindnexus/internal/types"
)

// Player renders synthesized audio on the local output device.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Speaker owns the machine's single voice-output channel. Starting a new
// utterance cancels the one in flight rather than queueing behind it, and
// synthesis plus playback happen on one background goroutine so callers are
// never blocked. Failures are logged and swallowed; the state always returns
// to idle.
type Speaker struct {
	synth  types.Synthesizer
	player Player

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
}

func NewSpeaker(synth types.Synthesizer, player Player) *Speaker {
	return &Speaker{synth: synth, player: player}
}

// Start begins speaking text, interrupting any current utterance.
func (s *Speaker) Start(text string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.run(ctx, gen, text)
}

func (s *Speaker) run(ctx context.Context, gen int, text string) {
	defer func() {
		s.mu.Lock()
		// A newer utterance may already own the slot.
		if s.gen == gen && s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("voice: synthesis failed: %v", err)
		}
		return
	}

	if err := s.player.Play(ctx, audio); err != nil && ctx.Err() == nil {
		log.Printf("voice: playback failed: %v", err)
	}
}

// Stop cancels the current utterance, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
