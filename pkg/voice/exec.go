package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecPlayer pipes audio into an external player command, e.g.
// "ffplay -autoexit -nodisp -i -" or "aplay".
type ExecPlayer struct {
	Command string
}

func (p *ExecPlayer) Play(ctx context.Context, audio []byte) error {
	if p.Command == "" {
		return errors.New("no player command configured")
	}
	args := strings.Fields(p.Command)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %q failed: %w", args[0], err)
	}
	return nil
}

// ExecRecorder captures from the default input device by running an external
// capture command that writes audio to stdout, e.g.
// "arecord -f S16_LE -r 16000 -t wav -q" or "sox -d -t wav -". The command
// runs for the requested window and is then stopped; whatever it wrote is
// the recording.
type ExecRecorder struct {
	Command string
}

func (r *ExecRecorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	if r.Command == "" {
		return nil, ErrNoInputDevice
	}
	args := strings.Fields(r.Command)
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("%w: %s not available", ErrNoInputDevice, args[0])
	}

	captureCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	cmd := exec.CommandContext(captureCtx, args[0], args[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out

	err := cmd.Run()
	// Being killed at the end of the window is the normal way a capture
	// stops; only a failure with no audio at all means the device is
	// unusable.
	if err != nil && captureCtx.Err() == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	if out.Len() == 0 {
		return nil, ErrNoInputDevice
	}
	return out.Bytes(), nil
}
