// Package output materializes execution results, either persisting artifact
// files to the configured output layout or returning an in-memory view.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/utils"
)

// Config describes the on-disk output layout.
type Config struct {
	// Base is the output root. Root-kind files land here directly.
	Base string

	// BrowserSubdir and ServerSubdir are resolved under Base. Defaults are
	// "browser" and "server".
	BrowserSubdir string
	ServerSubdir  string
}

// NewConfig creates an output config rooted at base with default subdirs.
func NewConfig(base string) Config {
	return Config{Base: base, BrowserSubdir: "browser", ServerSubdir: "server"}
}

func (c Config) destination(file *types.OutputFile) string {
	browser := c.BrowserSubdir
	if browser == "" {
		browser = "browser"
	}
	server := c.ServerSubdir
	if server == "" {
		server = "server"
	}

	switch file.Kind {
	case types.OutputKindBrowser:
		return filepath.Join(c.Base, browser, file.Path)
	case types.OutputKindServer:
		return filepath.Join(c.Base, server, file.Path)
	default:
		return filepath.Join(c.Base, file.Path)
	}
}

// Materializer turns execution results into caller outputs.
type Materializer struct {
	fs  fileWriter
	log logger.Logger
}

// fileWriter abstracts the persistence primitives so tests can inject
// failures.
type fileWriter interface {
	WriteFileAtomic(path string, data []byte) error
	RemoveAll(path string) error
}

type osWriter struct{}

func (osWriter) WriteFileAtomic(path string, data []byte) error {
	return utils.WriteFileAtomic(path, data)
}

func (osWriter) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// New creates a materializer.
func New(log logger.Logger) *Materializer {
	return &Materializer{fs: osWriter{}, log: log}
}

// newWithWriter is used by tests to inject write failures.
func newWithWriter(fs fileWriter, log logger.Logger) *Materializer {
	return &Materializer{fs: fs, log: log}
}

// Emit materializes one execution result. With writeToFS set, selected
// output files are persisted under the configured layout and the returned
// output carries no file contents; otherwise the in-memory view is
// returned, keyed by kind-prefixed path.
//
// Writes are atomic per file. On a write error the remaining writes in the
// batch are aborted and the error surfaces; files already written stay in
// place.
func (m *Materializer) Emit(writeToFS bool, result *types.ExecutionResult, cfg Config, filter types.WriteFilter) (types.BuildOutput, error) {
	out := types.BuildOutput{
		ID:          result.ID,
		Success:     result.Succeeded(),
		Diagnostics: result.Diagnostics,
		Duration:    result.Duration,
	}

	if !writeToFS {
		out.Files = make(map[string][]byte, len(result.OutputFiles))
		for _, file := range result.OutputFiles {
			out.Files[file.FullPath()] = file.Contents
		}
		return out, nil
	}

	// Deterministic write order keeps partial-failure states reproducible.
	paths := make([]string, 0, len(result.OutputFiles))
	for path := range result.OutputFiles {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	written := 0
	for _, path := range paths {
		file := result.OutputFiles[path]
		if filter != nil && !filter(&file) {
			continue
		}

		dest := cfg.destination(&file)
		if err := m.fs.WriteFileAtomic(dest, file.Contents); err != nil {
			return out, fmt.Errorf("failed to write output file %s: %w", dest, err)
		}
		written++
	}

	m.log.Debug("Persisted output files",
		logger.WithField("count", written),
		logger.WithField("path", cfg.Base))

	return out, nil
}

// DeleteOutputPath removes the output root ahead of a build. Callers must
// only invoke this when writing to the filesystem is enabled.
func (m *Materializer) DeleteOutputPath(cfg Config) error {
	if cfg.Base == "" {
		return nil
	}
	m.log.Debug("Deleting output path", logger.WithField("path", cfg.Base))
	if err := m.fs.RemoveAll(cfg.Base); err != nil {
		return fmt.Errorf("failed to delete output path %s: %w", cfg.Base, err)
	}
	return nil
}
