package encoder

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"transcoder/internal/pkg/textutil"
)

// Runner executes the encoding engine. stdout receives the -progress
// stream; the returned string is the tail of stderr for diagnostics.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer) (stderrTail string, err error)
}

// ExecRunner runs the engine as a subprocess. When ctx ends the process is
// killed; WaitDelay bounds how long Run then waits for its pipes.
type ExecRunner struct {
	WaitDelay time.Duration
	TailBytes int
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 10 * time.Second, TailBytes: 4096}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	tail := &tailBuffer{max: r.TailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = tail
	cmd.WaitDelay = r.WaitDelay
	err := cmd.Run()
	return tail.String(), err
}

// tailBuffer keeps at most the last max bytes written to it, starting on a
// rune boundary.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max <= 0 {
		t.max = 4096
	}
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append(t.buf[:0], textutil.TrimFront(t.buf, t.max)...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.ToValidUTF8(string(t.buf), "\uFFFD")
}
