// Package probe derives the facts the encoder needs from a local source file
// by running ffprobe: the total frame count and the ladder rung matching the
// video height.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"transcoder/internal/ladder"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
)

// Runner executes one command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

// ExecRunner runs commands via os/exec. A process that could not start or
// was killed by a signal is a CodeUnavailable error; a non-zero exit is a
// plain error carrying stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == -1 {
		return stdout.Bytes(), errors.WrapWithCode(err, errors.CodeUnavailable, "probe.exec", name+" did not run to completion").
			WithField("stderr", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
}

// Descriptor is what the lifecycle learns about a source before encoding.
type Descriptor struct {
	LocalPath   string
	TotalFrames int
	Rung        ladder.Rung
}

// Prober wraps ffprobe.
type Prober struct {
	binary string
	runner Runner
	log    *logger.Logger
}

// New creates a Prober. An empty binary means "ffprobe" from PATH and a nil
// runner means ExecRunner.
func New(binary string, runner Runner, log *logger.Logger) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Prober{binary: binary, runner: runner, log: log.WithComponent("probe")}
}

// TotalFrames returns the frame count of the first video stream. A zero or
// unparseable count is a CodeProbe error; zero is never a valid result.
func (p *Prober) TotalFrames(ctx context.Context, path string) (int, error) {
	out, err := p.runner.Run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err == nil {
		if n, ok := parseCount(out); ok {
			return n, nil
		}
	}

	// Some containers (mkv, webm) carry no nb_frames header; count packets instead.
	out, countErr := p.runner.Run(ctx, p.binary,
		"-v", "error",
		"-count_packets",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		path,
	)
	if countErr == nil {
		if n, ok := parseCount(out); ok {
			return n, nil
		}
	}

	for _, e := range []error{err, countErr} {
		if errors.IsCode(e, errors.CodeUnavailable) {
			return 0, errors.Wrap(e, "probe.frames", "could not run frame count probe").
				WithField("path", path)
		}
	}
	cause := err
	if cause == nil {
		cause = countErr
	}
	if cause == nil {
		cause = fmt.Errorf("unparseable output %q", strings.TrimSpace(string(out)))
	}
	return 0, errors.WrapWithCode(cause, errors.CodeProbe, "probe.frames", "could not determine total frame count").
		WithField("path", path)
}

// DetectedQuality classifies the first video stream's height. ok is false
// on any probe or parse failure, or when the height is below the ladder.
func (p *Prober) DetectedQuality(ctx context.Context, path string) (ladder.Rung, bool) {
	r, err := p.detect(ctx, path)
	return r, err == nil
}

// detect is DetectedQuality keeping the run error, so Describe can tell a
// missing tool from an unclassifiable source.
func (p *Prober) detect(ctx context.Context, path string) (ladder.Rung, error) {
	out, err := p.runner.Run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		p.log.Warn("resolution probe failed", "path", path, "error", err.Error())
		return ladder.Rung{}, err
	}

	width, height, err := parseDimensions(out)
	if err != nil {
		p.log.Warn("resolution output unparseable", "path", path, "error", err.Error())
		return ladder.Rung{}, err
	}

	r, ok := ladder.Classify(height)
	if !ok {
		p.log.Warn("source below lowest rung", "path", path, "width", width, "height", height)
		return ladder.Rung{}, fmt.Errorf("height %d below lowest rung", height)
	}
	p.log.Debug("source classified", "path", path, "width", width, "height", height, "rung", r.Label)
	return r, nil
}

// Describe runs both probes. Either fact being unknown is a CodeProbe error,
// unless ffprobe itself could not run.
func (p *Prober) Describe(ctx context.Context, path string) (Descriptor, error) {
	frames, err := p.TotalFrames(ctx, path)
	if err != nil {
		return Descriptor{}, err
	}
	r, err := p.detect(ctx, path)
	if errors.IsCode(err, errors.CodeUnavailable) {
		return Descriptor{}, errors.Wrap(err, "probe.quality", "could not run resolution probe").
			WithField("path", path)
	}
	if err != nil {
		return Descriptor{}, errors.WrapWithCode(err, errors.CodeProbe, "probe.quality", "could not determine source quality").
			WithField("path", path)
	}
	return Descriptor{LocalPath: path, TotalFrames: frames, Rung: r}, nil
}

func parseCount(out []byte) (int, bool) {
	// ffprobe may print one line per matching stream; the first one counts.
	line := firstLine(out)
	n, err := strconv.Atoi(line)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseDimensions(out []byte) (int, int, error) {
	line := firstLine(out)
	if line == "" {
		return 0, 0, fmt.Errorf("empty output")
	}
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("expected width,height, got %q", line)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("height: %w", err)
	}
	return width, height, nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, ","))
}
