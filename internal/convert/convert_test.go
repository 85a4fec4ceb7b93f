package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/livephoto"
	"github.com/motionlive/motionlive-agent/internal/media"
	"github.com/motionlive/motionlive-agent/internal/motionphoto"
	"github.com/motionlive/motionlive-agent/internal/xmp"
)

const testAssetID = "0A1B2C3D-4E5F-4A6B-8C7D-9E0F1A2B3C4D"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packet(offset int, tsUs string) string {
	return fmt.Sprintf(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF><rdf:Description `+
		`GCamera:MicroVideo="1" GCamera:MicroVideoOffset="%d" `+
		`GCamera:MicroVideoPresentationTimestampUs="%s"/></rdf:RDF></x:xmpmeta>`, offset, tsUs)
}

func videoBytes(n int) []byte {
	v := make([]byte, n)
	copy(v, "\x00\x00\x00\x18ftypmp42")
	return v
}

// writeMotionPhoto writes still+video to dir and returns the path and halves.
func writeMotionPhoto(t *testing.T, dir string, videoSize int, tsUs string) (string, []byte, []byte) {
	t.Helper()
	image := []byte("\xff\xd8still-image-data" + packet(videoSize, tsUs) + "\xff\xd9")
	video := videoBytes(videoSize)
	path := filepath.Join(dir, "PXL_20240506_070809123.MP.jpg")
	if err := os.WriteFile(path, append(append([]byte{}, image...), video...), 0644); err != nil {
		t.Fatal(err)
	}
	return path, image, video
}

type fakeTranscoder struct {
	duration float64
	fps      float64
	tags     map[string]string
	status   media.Status
	onRemux  func()

	inspects  atomic.Int32
	remuxes   atomic.Int32
	container atomic.Value
}

func (f *fakeTranscoder) Inspect(ctx context.Context, path string) (*media.Probe, error) {
	f.inspects.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &media.Probe{Duration: f.duration, FrameRate: f.fps, Tags: f.tags}, nil
}

func (f *fakeTranscoder) Remux(ctx context.Context, in, out string, c media.Container) media.ExportResult {
	f.remuxes.Add(1)
	f.container.Store(c)
	if f.onRemux != nil {
		f.onRemux()
	}
	switch f.status {
	case "", media.StatusCompleted:
	case media.StatusCancelled:
		return media.ExportResult{Status: f.status, Err: context.Canceled}
	default:
		return media.ExportResult{Status: f.status, Err: errors.New("ffmpeg exited 1")}
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return media.ExportResult{Status: media.StatusFailed, Err: err}
	}
	if err := os.WriteFile(out, data, 0600); err != nil {
		return media.ExportResult{Status: media.StatusFailed, Err: err}
	}
	return media.ExportResult{Status: media.StatusCompleted, OutputPath: out}
}

type fakeVideoTagger struct {
	err     error
	mu      sync.Mutex
	records []livephoto.Record
}

func (f *fakeVideoTagger) TagVideo(_ context.Context, in, out string, records []livephoto.Record) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.records = append([]livephoto.Record(nil), records...)
	f.mu.Unlock()
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0600)
}

type fakeImageTagger struct {
	calls atomic.Int32
}

func (f *fakeImageTagger) TagImage(img []byte, rec livephoto.Record) ([]byte, error) {
	f.calls.Add(1)
	out := append([]byte{}, img...)
	return append(out, "+"+rec.Value...), nil
}

type fakeGIF struct {
	calls atomic.Int32
	mu    sync.Mutex
	opts  media.GIFOptions
}

func (f *fakeGIF) SampleGIF(_ context.Context, _ string, opts media.GIFOptions) media.ExportResult {
	f.calls.Add(1)
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	if err := os.WriteFile(opts.OutputPath, []byte("GIF89a"), 0600); err != nil {
		return media.ExportResult{Status: media.StatusFailed, Err: err}
	}
	return media.ExportResult{Status: media.StatusCompleted, OutputPath: opts.OutputPath}
}

type savedPair struct {
	lp    library.LivePhoto
	image []byte
	video []byte
}

type fakeSink struct {
	err    error
	onSave func(ctx context.Context)

	mu      sync.Mutex
	pairs   []savedPair
	singles map[string][]byte
	metas   []library.Meta
}

func (f *fakeSink) SaveLivePhoto(ctx context.Context, lp library.LivePhoto) (library.Location, error) {
	if f.onSave != nil {
		f.onSave(ctx)
	}
	if f.err != nil {
		return library.Location{}, f.err
	}
	img, err := os.ReadFile(lp.ImagePath)
	if err != nil {
		return library.Location{}, err
	}
	vid, err := os.ReadFile(lp.VideoPath)
	if err != nil {
		return library.Location{}, err
	}
	f.mu.Lock()
	f.pairs = append(f.pairs, savedPair{lp: lp, image: img, video: vid})
	f.metas = append(f.metas, lp.Meta)
	f.mu.Unlock()
	return library.Location{AssetID: lp.ContentIdentifier, Paths: []string{"/lib/a.JPG", "/lib/a.MOV"}}, nil
}

func (f *fakeSink) saveSingle(path string, meta library.Meta) (library.Location, error) {
	if f.err != nil {
		return library.Location{}, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return library.Location{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.singles == nil {
		f.singles = make(map[string][]byte)
	}
	f.singles[filepath.Ext(path)] = data
	f.metas = append(f.metas, meta)
	return library.Location{AssetID: "SINGLE", Paths: []string{"/lib/a" + filepath.Ext(path)}}, nil
}

func (f *fakeSink) SaveGIF(_ context.Context, path string, meta library.Meta) (library.Location, error) {
	return f.saveSingle(path, meta)
}

func (f *fakeSink) SaveVideo(_ context.Context, path string, meta library.Meta) (library.Location, error) {
	return f.saveSingle(path, meta)
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) Transition(t Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []State{StateIdle}
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

type harness struct {
	svc        *Service
	transcoder *fakeTranscoder
	video      *fakeVideoTagger
	image      *fakeImageTagger
	gif        *fakeGIF
	sink       *fakeSink
	rec        *recorder
	scratchDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transcoder: &fakeTranscoder{duration: 3, fps: 30, tags: map[string]string{"com.android.version": "14"}},
		video:      &fakeVideoTagger{},
		image:      &fakeImageTagger{},
		gif:        &fakeGIF{},
		sink:       &fakeSink{},
		rec:        &recorder{},
		scratchDir: filepath.Join(t.TempDir(), "scratch"),
	}
	svc, err := NewService(Config{
		ScratchDir:  h.scratchDir,
		Transcoder:  h.transcoder,
		VideoTagger: h.video,
		ImageTagger: h.image,
		GIFSampler:  h.gif,
		Sink:        h.sink,
		Observers:   []Observer{h.rec},
		NewAssetID:  func() (livephoto.AssetID, error) { return testAssetID, nil },
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratchDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("scratch not cleaned up: %v", names)
	}
}

func assertStates(t *testing.T, got, want []State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestConvertLivePhoto(t *testing.T) {
	h := newHarness(t)
	src, image, video := writeMotionPhoto(t, t.TempDir(), 4096, "1500000")

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetLivePhoto})

	if res.Outcome != OutcomeCompleted || res.Err != nil {
		t.Fatalf("Convert() outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.StillImageTime != 129 {
		t.Errorf("StillImageTime = %d, want 129", res.StillImageTime)
	}
	if res.AssetID != testAssetID {
		t.Errorf("AssetID = %s", res.AssetID)
	}
	if res.Descriptor.VideoOffset != 4096 {
		t.Errorf("VideoOffset = %d", res.Descriptor.VideoOffset)
	}
	if len(res.Output.Paths) != 2 {
		t.Errorf("Output = %+v", res.Output)
	}

	assertStates(t, h.rec.states(), []State{
		StateIdle, StateExtracting, StateSplitting, StateCorrelating,
		StateAwaitingTranscode, StateSynthesizingMetadata, StateAwaitingPersist, StateCompleted,
	})

	if got := h.transcoder.container.Load(); got != media.ContainerMOV {
		t.Errorf("remux container = %v, want mov", got)
	}

	if len(h.sink.pairs) != 1 {
		t.Fatalf("sink received %d pairs, want 1", len(h.sink.pairs))
	}
	pair := h.sink.pairs[0]
	if want := string(image) + "+" + testAssetID; string(pair.image) != want {
		t.Errorf("tagged image = %q, want still plus identifier", pair.image)
	}
	if string(pair.video) != string(video) {
		t.Error("tagged video does not carry the embedded clip")
	}
	if pair.lp.ContentIdentifier != testAssetID || pair.lp.StillImageTime != 129 {
		t.Errorf("live photo = %+v", pair.lp)
	}
	if pair.lp.Meta.Stem != "PXL_20240506_070809123" {
		t.Errorf("Stem = %q", pair.lp.Meta.Stem)
	}
	if pair.lp.Meta.CreatedAt.IsZero() {
		t.Error("CreatedAt should fall back to the file modification time")
	}

	want := []livephoto.Record{
		{Key: "com.android.version", Value: "14", Scope: livephoto.ScopeVideo},
		{Key: livephoto.KeyContentIdentifier, Value: testAssetID, Scope: livephoto.ScopeBoth},
		{Key: livephoto.KeyStillImageTime, Value: "129", Scope: livephoto.ScopeVideo},
	}
	if len(h.video.records) != len(want) {
		t.Fatalf("video records = %v, want %v", h.video.records, want)
	}
	for i := range want {
		if h.video.records[i] != want[i] {
			t.Errorf("video record %d = %+v, want %+v", i, h.video.records[i], want[i])
		}
	}

	h.assertScratchEmpty(t)
}

func TestConvertNotAMotionPhoto(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(t.TempDir(), "plain.jpg")
	if err := os.WriteFile(src, []byte("\xff\xd8plain jpeg\xff\xd9"), 0644); err != nil {
		t.Fatal(err)
	}

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetLivePhoto})

	if res.Outcome != OutcomeFailed || res.State != StateFailed {
		t.Fatalf("outcome = %s/%s, want failed", res.Outcome, res.State)
	}
	if !errors.Is(res.Err, motionphoto.ErrNotAMotionPhoto) || !errors.Is(res.Err, xmp.ErrNotFound) {
		t.Errorf("Err = %v, want ErrNotAMotionPhoto wrapping ErrNotFound", res.Err)
	}
	if code := ErrorCode(res.Err); code != "not_a_motion_photo" {
		t.Errorf("ErrorCode = %s", code)
	}
	if h.transcoder.inspects.Load() != 0 || h.transcoder.remuxes.Load() != 0 {
		t.Error("transcoder must not run for a non motion photo")
	}
	assertStates(t, h.rec.states(), []State{StateIdle, StateExtracting, StateFailed})

	last := h.rec.transitions[len(h.rec.transitions)-1]
	if last.Err == nil || last.From != StateExtracting {
		t.Errorf("terminal transition = %+v", last)
	}
	h.assertScratchEmpty(t)
}

func TestConvertInvalidOffset(t *testing.T) {
	h := newHarness(t)

	// The declared offset equals the file length, leaving no still.
	build := func(offset int) []byte {
		return []byte("\xff\xd8" + packet(offset, "0") + "\xff\xd9")
	}
	n := 0
	for i := 0; i < 4; i++ {
		n = len(build(n))
	}
	raw := build(n)
	if len(raw) != n {
		t.Fatalf("fixture length %d does not match offset %d", len(raw), n)
	}
	src := filepath.Join(t.TempDir(), "bad.jpg")
	if err := os.WriteFile(src, raw, 0644); err != nil {
		t.Fatal(err)
	}

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetVideo})

	if !errors.Is(res.Err, motionphoto.ErrInvalidOffset) {
		t.Fatalf("Err = %v, want ErrInvalidOffset", res.Err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if h.transcoder.remuxes.Load() != 0 {
		t.Error("remux ran after an invalid offset")
	}
	assertStates(t, h.rec.states(), []State{StateIdle, StateExtracting, StateSplitting, StateFailed})
	h.assertScratchEmpty(t)
}

func TestConvertTranscodeStatus(t *testing.T) {
	tests := []struct {
		status  media.Status
		outcome Outcome
		sent    error
		code    string
	}{
		{media.StatusFailed, OutcomeFailed, ErrTranscodeFailed, "transcode_failed"},
		{media.StatusCancelled, OutcomeCancelled, ErrTranscodeCancelled, "transcode_cancelled"},
		{media.StatusUnknown, OutcomeFailed, ErrTranscodeUnknownStatus, "transcode_unknown_status"},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			h := newHarness(t)
			h.transcoder.status = tc.status
			src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "500000")

			res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetLivePhoto})

			if res.Outcome != tc.outcome {
				t.Errorf("outcome = %s, want %s", res.Outcome, tc.outcome)
			}
			if !errors.Is(res.Err, tc.sent) {
				t.Errorf("Err = %v, want %v", res.Err, tc.sent)
			}
			if code := ErrorCode(res.Err); code != tc.code {
				t.Errorf("ErrorCode = %s, want %s", code, tc.code)
			}
			if len(h.sink.pairs) != 0 {
				t.Error("sink called after a failed transcode")
			}
			h.assertScratchEmpty(t)
		})
	}
}

func TestConvertCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.svc.Convert(ctx, Request{SourcePath: src, Target: TargetGIF})

	if res.Outcome != OutcomeCancelled || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	assertStates(t, h.rec.states(), []State{StateIdle, StateCancelled})
	h.assertScratchEmpty(t)
}

func TestConvertCancelledMidFlight(t *testing.T) {
	h := newHarness(t)
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.transcoder.onRemux = cancel

	res := h.svc.Convert(ctx, Request{SourcePath: src, Target: TargetLivePhoto})

	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if ErrorCode(res.Err) != "cancelled" {
		t.Errorf("ErrorCode = %s", ErrorCode(res.Err))
	}
	if len(h.sink.pairs) != 0 || h.image.calls.Load() != 0 {
		t.Error("work continued after cancellation")
	}
	states := h.rec.states()
	if states[len(states)-2] != StateAwaitingTranscode {
		t.Errorf("states = %v, want cancellation right after transcode", states)
	}
	h.assertScratchEmpty(t)
}

func TestConvertMetadataWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.video.err = errors.New("ffmpeg exited 1")
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetLivePhoto})

	if !errors.Is(res.Err, ErrMetadataWriteFailed) || res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.Output.Paths != nil {
		t.Errorf("Output set on failure: %+v", res.Output)
	}
	h.assertScratchEmpty(t)
}

func TestConvertPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("library full")
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetVideo})

	if !errors.Is(res.Err, ErrPersistFailed) {
		t.Fatalf("Err = %v, want ErrPersistFailed", res.Err)
	}
	if ErrorCode(res.Err) != "persist_failed" {
		t.Errorf("ErrorCode = %s", ErrorCode(res.Err))
	}
	h.assertScratchEmpty(t)
}

func TestConvertPersistNotRetracted(t *testing.T) {
	h := newHarness(t)
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sinkCtxErr error
	h.sink.onSave = func(sctx context.Context) {
		cancel()
		sinkCtxErr = sctx.Err()
	}

	res := h.svc.Convert(ctx, Request{SourcePath: src, Target: TargetLivePhoto})

	if sinkCtxErr != nil {
		t.Errorf("sink context cancelled: %v", sinkCtxErr)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, err = %v; an in-flight persist must surface its result", res.Outcome, res.Err)
	}
	h.assertScratchEmpty(t)
}

func TestConvertGIF(t *testing.T) {
	h := newHarness(t)
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetGIF})

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	assertStates(t, h.rec.states(), []State{
		StateIdle, StateExtracting, StateSplitting, StateAwaitingTranscode, StateAwaitingPersist, StateCompleted,
	})
	if h.gif.opts.Frames != media.DefaultGIFFrames || h.gif.opts.Width != media.DefaultGIFWidth {
		t.Errorf("gif options = %+v", h.gif.opts)
	}
	if h.transcoder.remuxes.Load() != 0 || h.video.records != nil {
		t.Error("gif target must not remux or tag")
	}
	if string(h.sink.singles[".gif"]) != "GIF89a" {
		t.Errorf("saved gif = %q", h.sink.singles[".gif"])
	}
	if res.AssetID != "SINGLE" {
		t.Errorf("AssetID = %s, want the library asset id", res.AssetID)
	}
	h.assertScratchEmpty(t)
}

func TestConvertGIFRequestOverrides(t *testing.T) {
	h := newHarness(t)
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetGIF, GIFFrames: 8, GIFWidth: 320})

	if h.gif.opts.Frames != 8 || h.gif.opts.Width != 320 {
		t.Errorf("gif options = %+v, want 8 frames at 320px", h.gif.opts)
	}
}

func TestConvertVideo(t *testing.T) {
	h := newHarness(t)
	src, _, video := writeMotionPhoto(t, t.TempDir(), 2048, "0")

	res := h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetVideo})

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if got := h.transcoder.container.Load(); got != media.ContainerMP4 {
		t.Errorf("remux container = %v, want mp4", got)
	}
	if string(h.sink.singles[".mp4"]) != string(video) {
		t.Error("saved video differs from the embedded clip")
	}
}

func TestConvertCustomLivePhoto(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	img := filepath.Join(dir, "still.jpg")
	vid := filepath.Join(dir, "clip.MOV")
	if err := os.WriteFile(img, []byte("\xff\xd8custom\xff\xd9"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(vid, videoBytes(512), 0644); err != nil {
		t.Fatal(err)
	}

	res := h.svc.Convert(context.Background(), Request{Target: TargetLivePhoto, ImagePath: img, VideoPath: vid})

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.StillImageTime != 0 {
		t.Errorf("StillImageTime = %d, want 0", res.StillImageTime)
	}
	if h.transcoder.inspects.Load() != 1 {
		t.Errorf("inspects = %d, want 1 (transcoded tags only)", h.transcoder.inspects.Load())
	}
	if len(h.sink.pairs) != 1 || h.sink.pairs[0].lp.Meta.Stem != "still" {
		t.Fatalf("sink pairs = %+v", h.sink.pairs)
	}
	assertStates(t, h.rec.states(), []State{
		StateIdle, StateExtracting, StateSplitting, StateCorrelating,
		StateAwaitingTranscode, StateSynthesizingMetadata, StateAwaitingPersist, StateCompleted,
	})
	h.assertScratchEmpty(t)
}

func TestConvertReadFailure(t *testing.T) {
	h := newHarness(t)
	res := h.svc.Convert(context.Background(), Request{SourcePath: filepath.Join(t.TempDir(), "missing.jpg"), Target: TargetLivePhoto})

	if !errors.Is(res.Err, ErrReadSource) || !errors.Is(res.Err, os.ErrNotExist) {
		t.Fatalf("Err = %v, want ErrReadSource wrapping ErrNotExist", res.Err)
	}
	if ErrorCode(res.Err) != "read_failed" {
		t.Errorf("ErrorCode = %s", ErrorCode(res.Err))
	}
}

func TestConvertInvalidRequest(t *testing.T) {
	h := newHarness(t)
	tests := []Request{
		{Target: "webp", SourcePath: "/a.jpg"},
		{Target: TargetGIF},
		{Target: TargetLivePhoto, ImagePath: "/a.jpg"},
		{Target: TargetVideo, ImagePath: "/a.jpg", VideoPath: "/a.mov"},
	}
	for _, req := range tests {
		res := h.svc.Convert(context.Background(), req)
		if res.Outcome != OutcomeFailed || ErrorCode(res.Err) != "invalid_request" {
			t.Errorf("Convert(%+v) = %s / %v", req, res.Outcome, res.Err)
		}
	}
}

func TestConvertConcurrentConversionsDoNotCollide(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.NewAssetID = livephoto.NewAssetID

	const n = 8
	dir := t.TempDir()
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		sub := filepath.Join(dir, fmt.Sprint(i))
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}
		src, _, _ := writeMotionPhoto(t, sub, 1024+i, "0")
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			results[i] = h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetLivePhoto})
		}(i, src)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, res := range results {
		if res.Outcome != OutcomeCompleted {
			t.Fatalf("conversion %d: %s %v", i, res.Outcome, res.Err)
		}
		if ids[res.AssetID] {
			t.Fatalf("duplicate asset id %s", res.AssetID)
		}
		ids[res.AssetID] = true
	}

	// Each pair must carry its own clip: sizes differ per conversion.
	sizes := make(map[int]bool)
	for _, p := range h.sink.pairs {
		sizes[len(p.video)] = true
	}
	if len(sizes) != n {
		t.Fatalf("saved %d distinct clips, want %d", len(sizes), n)
	}
	h.assertScratchEmpty(t)
}

func TestInspect(t *testing.T) {
	h := newHarness(t)
	src, image, video := writeMotionPhoto(t, t.TempDir(), 2000, "1500000")

	in, err := h.svc.Inspect(context.Background(), src)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !in.MotionPhoto || in.ImageBytes != int64(len(image)) || in.VideoBytes != int64(len(video)) {
		t.Errorf("Inspect() = %+v", in)
	}
	if !in.VideoIsMP4 || in.PhotoSeconds != 1.5 {
		t.Errorf("Inspect() = %+v", in)
	}

	plain := filepath.Join(t.TempDir(), "plain.jpg")
	os.WriteFile(plain, []byte("\xff\xd8\xff\xd9"), 0644)
	in, err = h.svc.Inspect(context.Background(), plain)
	if err != nil {
		t.Fatalf("Inspect(plain) error = %v", err)
	}
	if in.MotionPhoto || in.Code != "not_a_motion_photo" || !strings.Contains(in.Reason, "not a motion photo") {
		t.Errorf("Inspect(plain) = %+v", in)
	}

	if _, err := h.svc.Inspect(context.Background(), filepath.Join(t.TempDir(), "nope.jpg")); !errors.Is(err, ErrReadSource) {
		t.Errorf("Inspect(missing) error = %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", &xmp.MalformedError{Diagnostic: "bad"}), "malformed_xmp"},
		{fmt.Errorf("%w: %w", motionphoto.ErrNotAMotionPhoto, xmp.ErrNotFound), "not_a_motion_photo"},
		{motionphoto.ErrInvalidOffset, "invalid_offset"},
		{fmt.Errorf("%w: %w", ErrTranscodeCancelled, context.Canceled), "transcode_cancelled"},
		{fmt.Errorf("%w: %w", ErrMetadataWriteFailed, context.Canceled), "cancelled"},
		{ErrPersistFailed, "persist_failed"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
		ok   bool
	}{
		{"livephoto", TargetLivePhoto, true},
		{"Live", TargetLivePhoto, true},
		{"GIF", TargetGIF, true},
		{"mp4", TargetVideo, true},
		{"webp", "", false},
	}
	for _, tc := range tests {
		got, err := ParseTarget(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseTarget(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestObserverFunc(t *testing.T) {
	var n atomic.Int32
	h := newHarness(t)
	h.svc.AddObserver(ObserverFunc(func(Transition) { n.Add(1) }))
	src, _, _ := writeMotionPhoto(t, t.TempDir(), 1024, "0")

	h.svc.Convert(context.Background(), Request{SourcePath: src, Target: TargetVideo})

	if n.Load() != 5 {
		t.Errorf("observer saw %d transitions, want 5", n.Load())
	}
}
