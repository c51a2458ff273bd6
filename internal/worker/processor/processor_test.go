package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/media/probe"
	"transcoder/internal/models"
	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/ports"
	"transcoder/internal/worker/orchestrator"
	"transcoder/internal/worker/workspace"
)

// memStorage is an in-memory bucket.
type memStorage struct {
	bucket string
	putErr error

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStorage(bucket string) *memStorage {
	return &memStorage{bucket: bucket, objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStorage) Provider() string { return "mem" }

func (m *memStorage) Bucket() string { return m.bucket }

func (m *memStorage) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if m.putErr != nil {
		return ports.PutObjectOutput{}, m.putErr
	}
	b, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[in.ObjectKey] = b
	m.types[in.ObjectKey] = in.ContentType
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(b))}, nil
}

func (m *memStorage) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, 0, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (m *memStorage) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ffprobeStub answers probe invocations by their -show_entries selector.
type ffprobeStub struct {
	frames     string
	dimensions string
	err        error
}

func (f ffprobeStub) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i, a := range args {
		if a != "-show_entries" || i+1 >= len(args) {
			continue
		}
		switch args[i+1] {
		case "stream=nb_frames", "stream=nb_read_packets":
			return []byte(f.frames), nil
		case "stream=width,height":
			return []byte(f.dimensions), nil
		}
	}
	return nil, fmt.Errorf("unexpected probe %v", args)
}

// fakeEncoder writes a manifest and two segments per rendition, failing
// the rungs listed in fail.
type fakeEncoder struct {
	fail  map[string]bool
	calls atomic.Int32
}

func (f *fakeEncoder) Encode(ctx context.Context, task encoder.Task, rep encoder.Reporter) encoder.Outcome {
	f.calls.Add(1)
	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return encoder.Outcome{Rung: task.Rung, Status: encoder.StatusFailed, Reason: err.Error()}
	}
	_ = os.WriteFile(filepath.Join(task.OutputDir, "s_000.ts"), []byte("seg0"), 0o644)
	if f.fail[task.Rung.Label] {
		return encoder.Outcome{Rung: task.Rung, Status: encoder.StatusFailed, Reason: "exit status 1"}
	}
	_ = os.WriteFile(filepath.Join(task.OutputDir, "s_001.ts"), []byte("seg1"), 0o644)
	_ = os.WriteFile(filepath.Join(task.OutputDir, encoder.ManifestName), []byte("#EXTM3U"), 0o644)
	rep.Progress(task.Rung, 50)
	rep.Progress(task.Rung, 100)
	rep.Completed(task.Rung)
	return encoder.Outcome{Rung: task.Rung, Status: encoder.StatusSucceeded}
}

type fakeLedger struct {
	mu         sync.Mutex
	started    []*models.Job
	states     []string
	finished   []string
	errText    string
	renditions []models.Rendition
}

func (l *fakeLedger) Start(ctx context.Context, j *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, j)
	return nil
}

func (l *fakeLedger) UpdateState(ctx context.Context, id, state string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
	return nil
}

func (l *fakeLedger) Finish(ctx context.Context, id, state, errText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, state)
	l.errText = errText
	return nil
}

func (l *fakeLedger) RecordRenditions(ctx context.Context, jobID string, rs []models.Rendition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renditions = append(l.renditions, rs...)
	return nil
}

type harness struct {
	src, dst *memStorage
	enc      *fakeEncoder
	ledger   *fakeLedger
	wsRoot   string
	p        *Processor
}

func newHarness(t *testing.T, probeOut ffprobeStub, policy Policy) *harness {
	t.Helper()
	h := &harness{
		src:    newMemStorage("video"),
		dst:    newMemStorage("video-encoded"),
		enc:    &fakeEncoder{fail: map[string]bool{}},
		ledger: &fakeLedger{},
		wsRoot: t.TempDir(),
	}
	h.src.objects["clip.mp4"] = []byte("source-bytes")

	log := logger.Discard()
	h.p = New(Deps{
		Source:       h.src,
		Destination:  h.dst,
		Workspaces:   workspace.NewManager(h.wsRoot, log),
		Prober:       probe.New("ffprobe", probeOut, log),
		Orchestrator: orchestrator.New(orchestrator.Deps{Encoder: h.enc, Log: log}),
		Policy:       policy,
		Ledger:       h.ledger,
		Log:          log,
	})
	return h
}

func (h *harness) assertWorkspaceReclaimed(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.wsRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected workspace root to be empty, found %d entries", len(entries))
	}
}

func TestProcessJob1080pPublishesFourRenditions(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "1500", dimensions: "1920,1080"}, PolicyPartial)

	res, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4", DeliveryID: "1-0", Attempt: 1})
	if err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}
	if res.State != StateAcknowledged {
		t.Errorf("state = %s, want acknowledged", res.State)
	}
	if len(res.Outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(res.Outcomes))
	}

	dirs := map[string]map[string]bool{}
	for _, k := range h.dst.keys() {
		parts := strings.Split(k, "/")
		if len(parts) != 3 || parts[0] != "clip.mp4" {
			t.Fatalf("unexpected key layout %s", k)
		}
		if dirs[parts[1]] == nil {
			dirs[parts[1]] = map[string]bool{}
		}
		dirs[parts[1]][parts[2]] = true
	}
	want := []string{"360p", "480p", "720p", "1080p"}
	if len(dirs) != len(want) {
		t.Fatalf("expected exactly %v, got %v", want, dirs)
	}
	for _, label := range want {
		files := dirs[label]
		if !files[encoder.ManifestName] {
			t.Errorf("%s: missing manifest", label)
		}
		if !files["s_000.ts"] {
			t.Errorf("%s: missing segment", label)
		}
	}
	if ct := h.dst.types["clip.mp4/720p/playlist.m3u8"]; ct != "application/vnd.apple.mpegurl" {
		t.Errorf("manifest content type = %q", ct)
	}
	if ct := h.dst.types["clip.mp4/720p/s_000.ts"]; ct != "video/mp2t" {
		t.Errorf("segment content type = %q", ct)
	}

	wantStates := []string{"acquiring", "probing", "encoding", "publishing"}
	if strings.Join(h.ledger.states, ",") != strings.Join(wantStates, ",") {
		t.Errorf("ledger states = %v, want %v", h.ledger.states, wantStates)
	}
	if len(h.ledger.finished) != 1 || h.ledger.finished[0] != "acknowledged" {
		t.Errorf("ledger finish = %v", h.ledger.finished)
	}
	if len(h.ledger.renditions) != 4 {
		t.Errorf("expected 4 rendition records, got %d", len(h.ledger.renditions))
	}
	if h.ledger.started[0].Attempt != 1 || h.ledger.started[0].VideoID != "clip.mp4" {
		t.Errorf("unexpected ledger start %+v", h.ledger.started[0])
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobZeroFramesAborts(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "0", dimensions: "1920,1080"}, PolicyPartial)

	res, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if err == nil {
		t.Fatal("expected zero frames to abort the job")
	}
	if !errors.IsCode(err, errors.CodeProbe) {
		t.Errorf("code = %s, want PROBE_FAILURE", errors.GetCode(err))
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want aborted", res.State)
	}
	if n := len(h.dst.keys()); n != 0 {
		t.Errorf("expected no destination writes, got %d", n)
	}
	if h.enc.calls.Load() != 0 {
		t.Errorf("encoder invoked %d times", h.enc.calls.Load())
	}
	if h.ledger.errText == "" {
		t.Error("expected the abort reason in the ledger")
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobUnknownQualityNeverEncodes(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "320,200"}, PolicyPartial)

	_, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if !errors.IsCode(err, errors.CodeProbe) {
		t.Fatalf("expected probe failure, got %v", err)
	}
	if h.enc.calls.Load() != 0 {
		t.Errorf("encoder invoked %d times", h.enc.calls.Load())
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobMissingSourceIsAcquisitionFailure(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "1280,720"}, PolicyPartial)

	_, err := h.p.ProcessJob(context.Background(), Job{VideoID: "absent.mp4"})
	if !errors.IsCode(err, errors.CodeAcquisition) {
		t.Fatalf("expected acquisition failure, got %v", err)
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobProberUnavailableIsRetryable(t *testing.T) {
	h := newHarness(t, ffprobeStub{err: errors.New(errors.CodeUnavailable, "ffprobe: executable file not found")}, PolicyPartial)

	_, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Fatalf("code = %s, want UNAVAILABLE", errors.GetCode(err))
	}
	if !errors.Retryable(err) {
		t.Error("a missing ffprobe must not dead-letter the job")
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobLedgerErrorTextIsBoundedUTF8(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "1280,720"}, PolicyPartial)

	key := strings.Repeat("é", 1500) + ".mp4"
	if _, err := h.p.ProcessJob(context.Background(), Job{VideoID: key}); err == nil {
		t.Fatal("expected a missing source to fail")
	}
	if n := len(h.ledger.errText); n == 0 || n > maxErrorText {
		t.Errorf("ledger error text length = %d, want 1..%d", n, maxErrorText)
	}
	if !utf8.ValidString(h.ledger.errText) {
		t.Error("ledger error text is not valid UTF-8")
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobPartialPolicyPublishesSurvivors(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "1280,720"}, PolicyPartial)
	h.enc.fail["480p"] = true

	res, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes))
	}
	for _, k := range h.dst.keys() {
		if strings.Contains(k, "/480p/") {
			t.Errorf("failed rendition must not be published: %s", k)
		}
	}
	if n := len(h.dst.keys()); n != 6 {
		t.Errorf("expected 2 renditions x 3 files, got %d objects", n)
	}
}

func TestProcessJobStrictPolicyFailsOnAnyDefect(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "1280,720"}, PolicyStrict)
	h.enc.fail["480p"] = true

	res, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if !errors.IsCode(err, errors.CodeRendition) {
		t.Fatalf("expected rendition failure, got %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Errorf("expected every outcome reported, got %d", len(res.Outcomes))
	}
	if n := len(h.dst.keys()); n != 0 {
		t.Errorf("expected nothing published, got %d objects", n)
	}
	h.assertWorkspaceReclaimed(t)
}

func TestProcessJobPublishFailure(t *testing.T) {
	h := newHarness(t, ffprobeStub{frames: "900", dimensions: "640,360"}, PolicyPartial)
	h.dst.putErr = fmt.Errorf("bucket unavailable")

	res, err := h.p.ProcessJob(context.Background(), Job{VideoID: "clip.mp4"})
	if !errors.IsCode(err, errors.CodePublish) {
		t.Fatalf("expected publish failure, got %v", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want aborted", res.State)
	}
	h.assertWorkspaceReclaimed(t)
}

func TestPolicyApply(t *testing.T) {
	r360, _ := ladder.Lookup("360p")
	r480, _ := ladder.Lookup("480p")
	ok := encoder.Outcome{Rung: r360, Status: encoder.StatusSucceeded}
	bad := encoder.Outcome{Rung: r480, Status: encoder.StatusFailed}

	tests := []struct {
		name        string
		policy      Policy
		outcomes    []encoder.Outcome
		wantPublish int
		wantErr     bool
	}{
		{"partial all ok", PolicyPartial, []encoder.Outcome{ok}, 1, false},
		{"partial one failed", PolicyPartial, []encoder.Outcome{ok, bad}, 1, false},
		{"partial all failed", PolicyPartial, []encoder.Outcome{bad}, 0, true},
		{"strict one failed", PolicyStrict, []encoder.Outcome{ok, bad}, 0, true},
		{"strict all ok", PolicyStrict, []encoder.Outcome{ok}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publish, _, err := tt.policy.Apply(tt.outcomes)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.CodeRendition) {
				t.Errorf("code = %s", errors.GetCode(err))
			}
			if len(publish) != tt.wantPublish {
				t.Errorf("publish = %d, want %d", len(publish), tt.wantPublish)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"partial", PolicyPartial, false},
		{"STRICT", PolicyStrict, false},
		{"", PolicyPartial, false},
		{"lenient", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestObjectKeyAndContentType(t *testing.T) {
	r, _ := ladder.Lookup("1080p")
	if got := ObjectKey("uploads/a.mp4", r, filepath.Join("sub", "s_000.ts")); got != "uploads/a.mp4/1080p/sub/s_000.ts" {
		t.Errorf("ObjectKey() = %s", got)
	}
	tests := map[string]string{
		"playlist.m3u8": "application/vnd.apple.mpegurl",
		"s_000.TS":      "video/mp2t",
		"notes.txt":     "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%s) = %s, want %s", name, got, want)
		}
	}
}
