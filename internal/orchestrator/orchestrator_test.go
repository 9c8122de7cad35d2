package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/mocks"
	"github.com/celestius0/angular-cli/pkg/types"
)

type testHarness struct {
	orch     *Orchestrator
	watcher  *mocks.MockWatcher
	pool     *mocks.MockWorkerPool
	notifier *mocks.MockNotifier
}

func newHarness(t *testing.T, opts types.Options) *testHarness {
	t.Helper()
	if opts.ProjectRoot == "" {
		opts.ProjectRoot = t.TempDir()
	}

	h := &testHarness{
		watcher:  mocks.NewMockWatcher(),
		pool:     mocks.NewMockWorkerPool(),
		notifier: mocks.NewMockNotifier(),
	}
	h.orch = New(opts, interfaces.Dependencies{
		NewWatcher: func(interfaces.WatchOptions) (interfaces.Watcher, error) {
			return h.watcher, nil
		},
		WorkerPool: h.pool,
		Notifier:   h.notifier,
	}, logger.Nop())
	return h
}

// countingBuilder produces successful results with configurable watch files
// per iteration and records dispose counts.
type countingBuilder struct {
	mu         sync.Mutex
	builds     int
	watchFiles [][]string
	rebuilds   []*types.RebuildState
	disposes   map[int]*int32
}

func newCountingBuilder(watchFiles ...[]string) *countingBuilder {
	return &countingBuilder{watchFiles: watchFiles, disposes: make(map[int]*int32)}
}

func (b *countingBuilder) build(_ context.Context, rebuild *types.RebuildState) (*types.ExecutionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.builds
	b.builds++
	b.rebuilds = append(b.rebuilds, rebuild)

	var files []string
	if n < len(b.watchFiles) {
		files = b.watchFiles[n]
	} else if len(b.watchFiles) > 0 {
		files = b.watchFiles[len(b.watchFiles)-1]
	}

	var count int32
	b.disposes[n] = &count
	return &types.ExecutionResult{
		ID:         fmt.Sprintf("build-%d", n),
		WatchFiles: files,
		Duration:   time.Millisecond,
		Disposer:   func() { atomic.AddInt32(&count, 1) },
	}, nil
}

func (b *countingBuilder) disposeCount(n int) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.disposes[n]; ok {
		return atomic.LoadInt32(c)
	}
	return 0
}

func (b *countingBuilder) buildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

func receiveOutput(t *testing.T, stream *ResultStream) types.BuildOutput {
	t.Helper()
	select {
	case out, ok := <-stream.Results():
		if !ok {
			t.Fatalf("stream closed early, err = %v", stream.Err())
		}
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a build output")
	}
	return types.BuildOutput{}
}

func waitForClose(t *testing.T, stream *ResultStream) {
	t.Helper()
	select {
	case out, ok := <-stream.Results():
		if ok {
			t.Fatalf("unexpected extra output: %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the stream to close")
	}
}

func TestSingleBuildWithoutWatch(t *testing.T) {
	h := newHarness(t, types.Options{Watch: false})
	builder := newCountingBuilder(nil)

	stream := h.orch.Run(context.Background(), builder.build)

	out := receiveOutput(t, stream)
	if out.ID != "build-0" {
		t.Errorf("ID = %q, want build-0", out.ID)
	}
	if !out.Success {
		t.Error("expected a successful output")
	}

	waitForClose(t, stream)
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if got := h.pool.Shutdowns(); got != 1 {
		t.Errorf("pool shutdowns = %d, want 1", got)
	}
	if got := builder.disposeCount(0); got != 1 {
		t.Errorf("result disposed %d times, want 1", got)
	}
}

func TestRebuildOnChangeBatch(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	builder := newCountingBuilder([]string{"/src/a.ts"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, builder.build)

	first := receiveOutput(t, stream)
	if first.ID != "build-0" {
		t.Errorf("first ID = %q, want build-0", first.ID)
	}

	batch := types.ChangeBatch{Modified: []string{"/src/a.ts"}}
	h.watcher.Deliver(batch)

	second := receiveOutput(t, stream)
	if second.ID != "build-1" {
		t.Errorf("second ID = %q, want build-1", second.ID)
	}

	builder.mu.Lock()
	rebuild := builder.rebuilds[1]
	builder.mu.Unlock()
	if rebuild == nil {
		t.Fatal("second build got a nil rebuild state")
	}
	if rebuild.Previous == nil || rebuild.Previous.ID != "build-0" {
		t.Errorf("rebuild.Previous = %+v, want build-0", rebuild.Previous)
	}
	if len(rebuild.Changes.Modified) != 1 || rebuild.Changes.Modified[0] != "/src/a.ts" {
		t.Errorf("rebuild.Changes = %+v, want the delivered batch", rebuild.Changes)
	}

	cancel()
	waitForClose(t, stream)
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil on cancellation", err)
	}
	if !h.watcher.Closed() {
		t.Error("watcher was not closed")
	}
	if got := h.pool.Shutdowns(); got != 1 {
		t.Errorf("pool shutdowns = %d, want 1", got)
	}
}

func TestWatchSetConvergesAcrossRebuilds(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	builder := newCountingBuilder(
		[]string{"/src/a.ts", "/src/b.ts"},
		[]string{"/src/b.ts", "/src/c.ts"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, builder.build)
	receiveOutput(t, stream)

	for _, path := range []string{"/src/a.ts", "/src/b.ts"} {
		if !h.watcher.IsWatched(path) {
			t.Errorf("%s not watched after the initial build", path)
		}
	}

	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	receiveOutput(t, stream)

	if h.watcher.IsWatched("/src/a.ts") {
		t.Error("/src/a.ts still watched after the rebuild dropped it")
	}
	for _, path := range []string{"/src/b.ts", "/src/c.ts"} {
		if !h.watcher.IsWatched(path) {
			t.Errorf("%s not watched after the rebuild", path)
		}
	}

	cancel()
	waitForClose(t, stream)
}

func TestRecreatedFileIsResubscribed(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	// Every build reports the same watch set; deleting and recreating a.ts
	// must still lead to a fresh Add for it.
	builder := newCountingBuilder([]string{"/src/a.ts", "/src/b.ts"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, builder.build)
	receiveOutput(t, stream)

	priorAdds := len(h.watcher.AddCalls())
	h.watcher.Deliver(types.ChangeBatch{Removed: []string{"/src/a.ts"}})
	receiveOutput(t, stream)

	var readded bool
	for _, call := range h.watcher.AddCalls()[priorAdds:] {
		for _, path := range call {
			if path == "/src/a.ts" {
				readded = true
			}
		}
	}
	if !readded {
		t.Error("removed-then-rewatched path was not re-added to the subscription")
	}

	cancel()
	waitForClose(t, stream)
}

func TestFailedBuildPreservesWatchCoverage(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})

	builds := 0
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		builds++
		if builds == 1 {
			return &types.ExecutionResult{
				ID:         "ok",
				WatchFiles: []string{"/src/a.ts", "/src/b.ts"},
			}, nil
		}
		// A failed build reports a truncated watch list.
		return &types.ExecutionResult{
			ID:          "broken",
			Diagnostics: []types.Diagnostic{{Severity: types.SeverityError, Text: "syntax error"}},
			WatchFiles:  []string{"/src/a.ts"},
		}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, build)
	receiveOutput(t, stream)

	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	out := receiveOutput(t, stream)
	if out.Success {
		t.Fatal("expected a failed output")
	}

	// Coverage from the last good build survives the failure.
	for _, path := range []string{"/src/a.ts", "/src/b.ts"} {
		if !h.watcher.IsWatched(path) {
			t.Errorf("%s unwatched after a failed build", path)
		}
	}

	cancel()
	waitForClose(t, stream)
}

func TestPreviousResultDisposedAfterNextBuild(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	builder := newCountingBuilder([]string{"/src/a.ts"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, builder.build)
	receiveOutput(t, stream)

	if got := builder.disposeCount(0); got != 0 {
		t.Fatalf("initial result disposed before any rebuild (count %d)", got)
	}

	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	receiveOutput(t, stream)

	if got := builder.disposeCount(0); got != 1 {
		t.Errorf("previous result disposed %d times after rebuild, want 1", got)
	}

	cancel()
	waitForClose(t, stream)

	if got := builder.disposeCount(0); got != 1 {
		t.Errorf("previous result disposed %d times after shutdown, want exactly 1", got)
	}
	if got := builder.disposeCount(1); got != 1 {
		t.Errorf("final result disposed %d times after shutdown, want 1", got)
	}
}

func TestBuildErrorEndsSession(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	wantErr := errors.New("backend crashed")
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		return nil, wantErr
	}

	stream := h.orch.Run(context.Background(), build)
	waitForClose(t, stream)

	if err := stream.Err(); !errors.Is(err, wantErr) {
		t.Errorf("Err() = %v, want wrapped %v", err, wantErr)
	}
	if got := h.pool.Shutdowns(); got != 1 {
		t.Errorf("pool shutdowns = %d, want 1", got)
	}
}

func TestWatcherFailureEndsSession(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})
	builder := newCountingBuilder([]string{"/src/a.ts"})

	stream := h.orch.Run(context.Background(), builder.build)
	receiveOutput(t, stream)

	wantErr := errors.New("inotify limit reached")
	h.watcher.FailWith(wantErr)

	waitForClose(t, stream)
	if err := stream.Err(); !errors.Is(err, wantErr) {
		t.Errorf("Err() = %v, want wrapped %v", err, wantErr)
	}
	if got := builder.disposeCount(0); got != 1 {
		t.Errorf("result disposed %d times after watcher failure, want 1", got)
	}
	if got := h.pool.Shutdowns(); got != 1 {
		t.Errorf("pool shutdowns = %d, want 1", got)
	}
}

func TestBuildsAreStrictlySerialized(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})

	var inFlight int32
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		if !atomic.CompareAndSwapInt32(&inFlight, 0, 1) {
			t.Error("overlapping builds detected")
		}
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&inFlight, 0)
		return &types.ExecutionResult{WatchFiles: []string{"/src/a.ts"}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, build)
	receiveOutput(t, stream)

	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	h.watcher.Deliver(types.ChangeBatch{Added: []string{"/src/b.ts"}})

	receiveOutput(t, stream)
	receiveOutput(t, stream)

	cancel()
	waitForClose(t, stream)
}

func TestNotifierReceivesEveryOutcome(t *testing.T) {
	h := newHarness(t, types.Options{Watch: true})

	builds := 0
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		builds++
		result := &types.ExecutionResult{
			ID:         fmt.Sprintf("build-%d", builds),
			WatchFiles: []string{"/src/a.ts"},
		}
		if builds == 2 {
			result.Diagnostics = []types.Diagnostic{{Severity: types.SeverityError, Text: "boom"}}
		}
		return result, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, build)
	receiveOutput(t, stream)
	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	receiveOutput(t, stream)

	cancel()
	waitForClose(t, stream)

	events := h.notifier.Events()
	if len(events) != 2 {
		t.Fatalf("got %d notifications, want 2", len(events))
	}
	if !events[0].Success || events[0].BuildID != "build-1" {
		t.Errorf("first notification = %+v", events[0])
	}
	if events[1].Success || events[1].BuildID != "build-2" {
		t.Errorf("second notification = %+v", events[1])
	}
}

func TestGeneratedBuildIDWhenBackendOmitsIt(t *testing.T) {
	h := newHarness(t, types.Options{Watch: false})
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{}, nil
	}

	stream := h.orch.Run(context.Background(), build)
	out := receiveOutput(t, stream)
	if out.ID == "" {
		t.Error("expected a generated build ID")
	}
	waitForClose(t, stream)
}

func TestInMemoryOutputsCarryFileContents(t *testing.T) {
	h := newHarness(t, types.Options{Watch: false, WriteToFileSystem: false})
	build := func(_ context.Context, _ *types.RebuildState) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{
			ID: "mem",
			OutputFiles: map[string]types.OutputFile{
				"main.js":    {Path: "main.js", Kind: types.OutputKindBrowser, Contents: []byte("js")},
				"index.html": {Path: "index.html", Kind: types.OutputKindRoot, Contents: []byte("html")},
			},
		}, nil
	}

	stream := h.orch.Run(context.Background(), build)
	out := receiveOutput(t, stream)
	waitForClose(t, stream)

	if string(out.Files["browser/main.js"]) != "js" {
		t.Errorf("Files[browser/main.js] = %q", out.Files["browser/main.js"])
	}
	if string(out.Files["index.html"]) != "html" {
		t.Errorf("Files[index.html] = %q", out.Files["index.html"])
	}
}

func TestManifestFilesAreAlwaysWatched(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"package.json", "yarn.lock", "angular.json"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	h := newHarness(t, types.Options{
		Watch:                  true,
		ProjectRoot:            root,
		WatchProjectRootConfig: true,
	})
	builder := newCountingBuilder([]string{"/src/a.ts"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := h.orch.Run(ctx, builder.build)
	receiveOutput(t, stream)

	for _, name := range []string{"package.json", "yarn.lock", "angular.json"} {
		if !h.watcher.IsWatched(filepath.Join(root, name)) {
			t.Errorf("%s not watched", name)
		}
	}
	if h.watcher.IsWatched(filepath.Join(root, "pnpm-lock.yaml")) {
		t.Error("absent lockfile was watched")
	}

	// Manifests are pinned: a rebuild that names none of them must not
	// unwatch them.
	h.watcher.Deliver(types.ChangeBatch{Modified: []string{"/src/a.ts"}})
	receiveOutput(t, stream)

	if !h.watcher.IsWatched(filepath.Join(root, "package.json")) {
		t.Error("package.json unwatched by reconciliation")
	}

	cancel()
	waitForClose(t, stream)
}

func TestIgnorePatternsExcludeSessionArtifacts(t *testing.T) {
	o := New(types.Options{
		ProjectRoot: "/work/app",
		OutputPath:  "/work/app/dist",
		ExtraIgnore: []string{"coverage"},
	}, interfaces.Dependencies{
		WorkerPool: mocks.NewMockWorkerPool(),
	}, logger.Nop())

	patterns := o.ignorePatterns()
	joined := strings.Join(patterns, "\n")

	for _, want := range []string{"/work/app/dist/**", "/work/app/.angular/cache/**", "node_modules", "coverage"} {
		if !strings.Contains(joined, want) {
			t.Errorf("ignore patterns missing %q, got %v", want, patterns)
		}
	}
}

func TestSymlinkPreservationKeepsNodeModulesWatchable(t *testing.T) {
	o := New(types.Options{
		ProjectRoot:    "/work/app",
		FollowSymlinks: true,
	}, interfaces.Dependencies{
		WorkerPool: mocks.NewMockWorkerPool(),
	}, logger.Nop())

	for _, p := range o.ignorePatterns() {
		if p == "node_modules" {
			t.Error("node_modules ignored despite symlink preservation")
		}
	}
}
