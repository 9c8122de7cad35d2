// Package orchestrator runs the build session: one initial build, then a
// serialized rebuild loop driven by file-system change batches, delivering
// outputs through a pull-based result stream.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/celestius0/angular-cli/internal/watcher"
	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/output"
	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/workers"
)

// Orchestrator coordinates builds, watching, and output materialization for
// one project.
type Orchestrator struct {
	opts types.Options
	deps interfaces.Dependencies
	log  logger.Logger

	materializer *output.Materializer
	outCfg       output.Config

	// screen receives the clear sequence between rebuilds.
	screen io.Writer

	// progress animates the initial build on interactive terminals.
	progress *spinner
}

// New creates an orchestrator. Zero-value dependencies get production
// defaults: the fsnotify-backed watcher and the process-wide worker pool.
func New(opts types.Options, deps interfaces.Dependencies, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if deps.NewWatcher == nil {
		deps.NewWatcher = func(wo interfaces.WatchOptions) (interfaces.Watcher, error) {
			return watcher.New(watcher.Options{
				Ignored:        wo.Ignored,
				PollInterval:   wo.PollInterval,
				FollowSymlinks: wo.FollowSymlinks,
				Logger:         log,
			})
		}
	}
	if deps.WorkerPool == nil {
		deps.WorkerPool = workers.Acquire(log)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	return &Orchestrator{
		opts:         opts,
		deps:         deps,
		log:          log,
		materializer: output.New(log),
		outCfg:       output.NewConfig(opts.OutputPath),
		screen:       os.Stdout,
		progress:     newSpinner(os.Stderr, isatty.IsTerminal(os.Stderr.Fd())),
	}
}

type nopNotifier struct{}

func (nopNotifier) BuildComplete(string, bool, time.Duration) {}

// Run starts the session and returns its result stream. The session ends
// when ctx is cancelled, the watcher fails, or the build function returns
// an error; in watch-disabled mode it ends after the single build. The
// worker pool is shut down exactly once per session, on every exit path.
func (o *Orchestrator) Run(ctx context.Context, build types.BuildFunc) *ResultStream {
	stream := newResultStream()
	go func() {
		stream.finish(o.session(ctx, build, stream))
	}()
	return stream
}

func (o *Orchestrator) session(ctx context.Context, build types.BuildFunc, stream *ResultStream) error {
	defer o.deps.WorkerPool.Shutdown()

	if o.opts.DeleteOutputPath && o.opts.WriteToFileSystem {
		if err := o.materializer.DeleteOutputPath(o.outCfg); err != nil {
			return err
		}
	}

	o.progress.Start("Building...")
	result, err := o.runBuild(ctx, build, nil)
	o.progress.Stop()
	if err != nil {
		return err
	}

	if !o.opts.Watch {
		defer result.Dispose()
		out, err := o.emit(result)
		if err != nil {
			return err
		}
		stream.send(ctx, out)
		return nil
	}

	w, err := o.deps.NewWatcher(interfaces.WatchOptions{
		Ignored:        o.ignorePatterns(),
		PollInterval:   o.opts.PollInterval,
		FollowSymlinks: o.opts.FollowSymlinks,
	})
	if err != nil {
		result.Dispose()
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	return o.watchLoop(ctx, build, stream, w, result)
}

// watchLoop owns result and the watcher; both are released on every exit
// path, concurrently, with panics contained.
func (o *Orchestrator) watchLoop(ctx context.Context, build types.BuildFunc, stream *ResultStream, w interfaces.Watcher, result *types.ExecutionResult) (err error) {
	defer func() {
		teardown, _ := newSafeGroup(context.Background(), o.log)
		teardown.Go(w.Close)
		teardown.Go(func() error {
			result.Dispose()
			return nil
		})
		if terr := teardown.Wait(); terr != nil && err == nil {
			err = terr
		}
	}()

	// Manifests and lockfiles are pinned: subscribed before the first
	// output is delivered and never removed by reconciliation.
	pinned := o.pinnedPaths()
	if err := w.Add(pinned); err != nil {
		return fmt.Errorf("failed to watch manifest files: %w", err)
	}
	pinnedSet := make(map[string]struct{}, len(pinned))
	for _, path := range pinned {
		pinnedSet[path] = struct{}{}
	}

	watched := make(map[string]struct{})
	if err := o.applyWatchDelta(w, watched, pinnedSet, result.WatchFiles, result.Succeeded()); err != nil {
		return err
	}

	for {
		out, err := o.emit(result)
		if err != nil {
			return err
		}
		if !stream.send(ctx, out) {
			return nil
		}
		o.deps.Notifier.BuildComplete(result.ID, out.Success, out.Duration)

		var batch types.ChangeBatch
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-w.Batches():
			if !ok {
				if werr := w.Err(); werr != nil {
					return fmt.Errorf("file watcher failed: %w", werr)
				}
				return nil
			}
			batch = b
		}

		// Deleted paths leave the bookkeeping immediately (the watcher drops
		// them itself); if the next build still reports one, reconciliation
		// re-adds it, restoring the subscription for a recreated file.
		for _, path := range batch.Removed {
			delete(watched, path)
		}

		if o.opts.ClearScreenOnRebuild {
			fmt.Fprint(o.screen, "\x1b[2J\x1b[3J\x1b[H")
		}
		o.log.Info("Changes detected, rebuilding",
			logger.WithField("changed", len(batch.Paths())))

		next, err := o.runBuild(ctx, build, &types.RebuildState{Previous: result, Changes: batch})
		if err != nil {
			return err
		}

		// The previous result stays live until the incremental build that
		// consumed it has completed.
		result.Dispose()
		result = next

		if err := o.applyWatchDelta(w, watched, pinnedSet, result.WatchFiles, result.Succeeded()); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runBuild(ctx context.Context, build types.BuildFunc, rebuild *types.RebuildState) (*types.ExecutionResult, error) {
	started := time.Now()
	result, err := build(ctx, rebuild)
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Duration == 0 {
		result.Duration = time.Since(started)
	}

	log := o.log.WithBuild(result.ID)
	for _, d := range result.Diagnostics {
		o.logDiagnostic(log, d)
	}
	if result.Succeeded() {
		log.Info("Build completed", logger.WithField("duration", result.Duration.Round(time.Millisecond)))
	} else {
		log.Error("Build failed",
			logger.WithField("errors", len(result.Errors())),
			logger.WithField("duration", result.Duration.Round(time.Millisecond)))
	}
	return result, nil
}

func (o *Orchestrator) logDiagnostic(log logger.Logger, d types.Diagnostic) {
	var fields []logger.Field
	if d.File != "" {
		fields = append(fields, logger.WithField("file", d.File))
		if d.Line > 0 {
			fields = append(fields, logger.WithField("line", d.Line))
		}
	}

	switch d.Severity {
	case types.SeverityError:
		log.Error(d.Text, fields...)
	case types.SeverityWarning:
		log.Warn(d.Text, fields...)
	default:
		log.Info(d.Text, fields...)
	}
}

func (o *Orchestrator) emit(result *types.ExecutionResult) (types.BuildOutput, error) {
	return o.materializer.Emit(o.opts.WriteToFileSystem, result, o.outCfg, o.opts.WriteFilter)
}

// applyWatchDelta reconciles the subscription with the latest build's watch
// list. Failed builds only grow the set. Pinned paths are managed outside
// the reconciled set so a build listing one cannot cause its removal later.
func (o *Orchestrator) applyWatchDelta(w interfaces.Watcher, watched, pinned map[string]struct{}, latest []string, succeeded bool) error {
	reconcilable := latest
	if len(pinned) > 0 {
		reconcilable = make([]string, 0, len(latest))
		for _, path := range latest {
			if _, ok := pinned[path]; !ok {
				reconcilable = append(reconcilable, path)
			}
		}
	}

	toAdd, toRemove := reconcile(watched, reconcilable, !succeeded)

	if len(toAdd) > 0 {
		if err := w.Add(toAdd); err != nil {
			return fmt.Errorf("failed to extend watch set: %w", err)
		}
		for _, path := range toAdd {
			watched[path] = struct{}{}
		}
	}
	if len(toRemove) > 0 {
		if err := w.Remove(toRemove); err != nil {
			return fmt.Errorf("failed to shrink watch set: %w", err)
		}
		for _, path := range toRemove {
			delete(watched, path)
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		o.log.Debug("Reconciled watch set",
			logger.WithField("added", len(toAdd)),
			logger.WithField("removed", len(toRemove)),
			logger.WithField("total", len(watched)))
	}
	return nil
}

// pinnedPaths returns the always-watched paths: package-manager manifests
// present at the project root, plus the workspace config when requested.
func (o *Orchestrator) pinnedPaths() []string {
	var paths []string
	for _, name := range types.ManifestFiles {
		path := filepath.Join(o.opts.ProjectRoot, name)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	if o.opts.WatchProjectRootConfig {
		path := filepath.Join(o.opts.ProjectRoot, "angular.json")
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

// ignorePatterns builds the watch exclusion list: artifacts the session
// itself produces must never feed back into it.
func (o *Orchestrator) ignorePatterns() []string {
	patterns := []string{"**/.*/**", "**/.*"}

	if o.opts.OutputPath != "" {
		patterns = append(patterns, filepath.ToSlash(o.opts.OutputPath)+"/**")
	}
	cache := o.opts.CacheDir
	if cache == "" {
		cache = filepath.Join(o.opts.ProjectRoot, ".angular", "cache")
	}
	patterns = append(patterns, filepath.ToSlash(cache)+"/**")

	// node_modules contents only matter through the lockfiles above, unless
	// symlink preservation points real sources into it.
	if !o.opts.FollowSymlinks {
		patterns = append(patterns, "node_modules")
	}

	return append(patterns, o.opts.ExtraIgnore...)
}
