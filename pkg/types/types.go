// Package types provides the core data model for the build orchestrator.
package types

import (
	"context"
	"sync"
	"time"
)

// Severity classifies a build diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a structured message produced by the build backend.
// Diagnostics are forwarded to the logger, never raised as errors.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// OutputKind determines where an output file is placed in the output layout.
type OutputKind string

const (
	OutputKindBrowser OutputKind = "browser"
	OutputKindServer  OutputKind = "server"
	OutputKindRoot    OutputKind = "root"
)

// OutputFile is a single build artifact. Immutable once produced.
type OutputFile struct {
	// Path is relative to the output root for its kind.
	Path     string
	Contents []byte
	Kind     OutputKind
}

// FullPath returns the file path prefixed with its kind subdirectory.
func (f *OutputFile) FullPath() string {
	switch f.Kind {
	case OutputKindBrowser:
		return "browser/" + f.Path
	case OutputKindServer:
		return "server/" + f.Path
	default:
		return f.Path
	}
}

// ExecutionResult is the full output of one build attempt. It is owned by
// the orchestrator until the next build completes, at which point Dispose
// must have been called exactly once.
type ExecutionResult struct {
	// ID correlates log lines, notifications and caller outputs for one build.
	ID string

	Diagnostics []Diagnostic

	// OutputFiles is keyed by kind-prefixed path (OutputFile.FullPath);
	// browser and server artifacts may share a relative path.
	OutputFiles map[string]OutputFile

	// WatchFiles are the absolute paths whose change should trigger a rebuild.
	WatchFiles []string

	// Duration of the build that produced this result.
	Duration time.Duration

	// Disposer releases backend-held incremental state. May be nil.
	Disposer func()

	disposeOnce sync.Once
}

// Succeeded reports whether the result carries no error-severity diagnostics.
func (r *ExecutionResult) Succeeded() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity diagnostics.
func (r *ExecutionResult) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Dispose releases backend-held incremental state. Safe to call more than
// once; only the first call runs the disposer.
func (r *ExecutionResult) Dispose() {
	r.disposeOnce.Do(func() {
		if r.Disposer != nil {
			r.Disposer()
		}
	})
}

// ChangeBatch is a coalesced group of file-system change notifications,
// consumed once per rebuild iteration.
type ChangeBatch struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the batch carries no paths.
func (b *ChangeBatch) Empty() bool {
	return len(b.Added) == 0 && len(b.Removed) == 0 && len(b.Modified) == 0
}

// Paths returns every path referenced by the batch.
func (b *ChangeBatch) Paths() []string {
	paths := make([]string, 0, len(b.Added)+len(b.Removed)+len(b.Modified))
	paths = append(paths, b.Added...)
	paths = append(paths, b.Removed...)
	paths = append(paths, b.Modified...)
	return paths
}

// RebuildState is the backend-opaque token carried from one build to the
// next, enabling incremental recomputation.
type RebuildState struct {
	// Previous is the result of the preceding build. Still live when the
	// build function runs; disposed by the orchestrator afterwards.
	Previous *ExecutionResult

	// Changes is the batch that triggered this rebuild.
	Changes ChangeBatch
}

// BuildFunc executes a full build (nil rebuild state) or an incremental
// rebuild. Supplied by the caller; any compiler or bundler satisfying this
// signature is pluggable.
type BuildFunc func(ctx context.Context, rebuild *RebuildState) (*ExecutionResult, error)

// WriteFilter selects which output files are persisted to disk.
type WriteFilter func(file *OutputFile) bool

// BuildOutput is the caller-facing view of one build, either a plain
// summary (filesystem mode) or an in-memory file view.
type BuildOutput struct {
	ID          string
	Success     bool
	Diagnostics []Diagnostic
	Duration    time.Duration

	// Files holds the artifact contents keyed by kind-prefixed path.
	// Populated only when writing to the filesystem is disabled.
	Files map[string][]byte
}

// Options is the configuration bundle recognized by the orchestrator.
type Options struct {
	// ProjectRoot is the absolute path of the workspace being built.
	ProjectRoot string

	// OutputPath is the base directory for persisted artifacts.
	OutputPath string

	// CacheDir is the backend build-cache directory, always excluded
	// from the watch subscription.
	CacheDir string

	WriteToFileSystem bool
	WriteFilter       WriteFilter

	Watch                  bool
	PollInterval           time.Duration
	FollowSymlinks         bool
	ClearScreenOnRebuild   bool
	DeleteOutputPath       bool
	WatchProjectRootConfig bool

	// ExtraIgnore supplements the mandatory watch ignore patterns.
	ExtraIgnore []string
}

// ManifestFiles are package-manager manifests and lockfiles that affect
// module resolution outside the backend's visibility. Any of these present
// at the project root is always watched.
var ManifestFiles = []string{
	"package.json",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"bun.lock",
	"bun.lockb",
}
