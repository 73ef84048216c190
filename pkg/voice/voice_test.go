package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSynth blocks selected utterances until their context is canceled;
// everything else synthesizes immediately.
type blockingSynth struct {
	blockText string
	started   chan string
}

func (s *blockingSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.started != nil {
		s.started <- text
	}
	if text == s.blockText {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(text), nil
}

type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	done   chan struct{}
}

func (p *recordingPlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	p.played = append(p.played, string(audio))
	p.mu.Unlock()
	if p.done != nil {
		p.done <- struct{}{}
	}
	return nil
}

func (p *recordingPlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

func TestSpeakerPlaysAndGoesIdle(t *testing.T) {
	player := &recordingPlayer{done: make(chan struct{}, 1)}
	speaker := NewSpeaker(&blockingSynth{}, player)

	speaker.Start("hello there")
	select {
	case <-player.done:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never happened")
	}

	assert.Equal(t, []string{"hello there"}, player.snapshot())
	assert.Eventually(t, func() bool { return !speaker.IsSpeaking() },
		2*time.Second, 10*time.Millisecond)
}

func TestSpeakerInterruptsPreviousUtterance(t *testing.T) {
	synth := &blockingSynth{blockText: "first", started: make(chan string, 2)}
	player := &recordingPlayer{done: make(chan struct{}, 2)}
	speaker := NewSpeaker(synth, player)

	speaker.Start("first")
	require.Equal(t, "first", <-synth.started)

	speaker.Start("second")
	require.Equal(t, "second", <-synth.started)

	select {
	case <-player.done:
	case <-time.After(2 * time.Second):
		t.Fatal("second utterance never played")
	}

	// Only the replacement reaches the audio device.
	assert.Equal(t, []string{"second"}, player.snapshot())
	assert.Eventually(t, func() bool { return !speaker.IsSpeaking() },
		2*time.Second, 10*time.Millisecond)
}

func TestSpeakerStop(t *testing.T) {
	synth := &blockingSynth{blockText: "droning on", started: make(chan string, 1)}
	player := &recordingPlayer{}
	speaker := NewSpeaker(synth, player)

	speaker.Start("droning on")
	<-synth.started
	assert.True(t, speaker.IsSpeaking())

	speaker.Stop()
	assert.False(t, speaker.IsSpeaking())
	assert.Empty(t, player.snapshot())
}

type fakeRecorder struct {
	audio []byte
	err   error
}

func (r *fakeRecorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	return r.audio, r.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (tr *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return tr.text, tr.err
}

func TestListen(t *testing.T) {
	tests := []struct {
		name        string
		recorder    *fakeRecorder
		transcriber *fakeTranscriber
		want        string
		wantErr     error
	}{
		{
			name:        "happy path",
			recorder:    &fakeRecorder{audio: []byte("pcm")},
			transcriber: &fakeTranscriber{text: "  what is osmosis  "},
			want:        "what is osmosis",
		},
		{
			name:        "no input device",
			recorder:    &fakeRecorder{err: ErrNoInputDevice},
			transcriber: &fakeTranscriber{},
			wantErr:     ErrNoInputDevice,
		},
		{
			name:        "recorder failure maps to no device",
			recorder:    &fakeRecorder{err: errors.New("alsa exploded")},
			transcriber: &fakeTranscriber{},
			wantErr:     ErrNoInputDevice,
		},
		{
			name:        "silence times out",
			recorder:    &fakeRecorder{audio: nil},
			transcriber: &fakeTranscriber{text: "ignored"},
			wantErr:     ErrRecognitionTimeout,
		},
		{
			name:        "recognition deadline",
			recorder:    &fakeRecorder{audio: []byte("pcm")},
			transcriber: &fakeTranscriber{err: context.DeadlineExceeded},
			wantErr:     ErrRecognitionTimeout,
		},
		{
			name:        "recognition failure",
			recorder:    &fakeRecorder{audio: []byte("pcm")},
			transcriber: &fakeTranscriber{err: errors.New("500 from whisper")},
			wantErr:     ErrRecognition,
		},
		{
			name:        "empty transcript",
			recorder:    &fakeRecorder{audio: []byte("pcm")},
			transcriber: &fakeTranscriber{text: "   "},
			wantErr:     ErrRecognition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener := NewListener(tt.recorder, tt.transcriber)
			text, err := listener.Listen(context.Background(), time.Second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestSpeechClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte("RIFFfakeaudio"))
	}))
	defer srv.Close()

	client := NewSpeechClient(srv.URL, "alloy", time.Second)
	audio, err := client.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFfakeaudio"), audio)
}

func TestSpeechClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSpeechClient(srv.URL, "alloy", time.Second).Synthesize(context.Background(), "hello")
	assert.ErrorContains(t, err, "503")
}

func TestTranscribeClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"what is entropy"}`))
	}))
	defer srv.Close()

	text, err := NewTranscribeClient(srv.URL, time.Second).Transcribe(context.Background(), []byte("pcm"))
	require.NoError(t, err)
	assert.Equal(t, "what is entropy", text)
}
