package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindnexus/internal/types"
)

// Typed failures so callers can tell "no device" from "recognition failed"
// from "timed out". All of them degrade to feature-unavailable notices;
// none abort the session.
var (
	ErrNoInputDevice      = errors.New("microphone not found")
	ErrRecognition        = errors.New("speech recognition failed")
	ErrRecognitionTimeout = errors.New("speech recognition timed out")
)

// Listener captures audio from the default input device and sends it to a
// speech-recognition service. Listen blocks the caller for the full capture
// window by design; the UI shows a waiting indicator for its duration.
type Listener struct {
	recorder    types.Recorder
	transcriber types.Transcriber
}

func NewListener(recorder types.Recorder, transcriber types.Transcriber) *Listener {
	return &Listener{recorder: recorder, transcriber: transcriber}
}

func (l *Listener) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	audio, err := l.recorder.Record(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrNoInputDevice) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if len(audio) == 0 {
		return "", ErrRecognitionTimeout
	}

	text, err := l.transcriber.Transcribe(ctx, audio)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrRecognitionTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrRecognition
	}
	return text, nil
}
