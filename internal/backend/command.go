// Package backend provides the command-execution build backend: it shells
// out to a configured build command, collects the artifacts it produced,
// and reports the watch set derived from the configured source globs. The
// orchestrator sees it only as a build function.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/utils"
)

// CommandBackend turns a shell command into a BuildFunc.
type CommandBackend struct {
	cfg         *types.BuildConfig
	projectRoot string
	pool        interfaces.WorkerPool
	log         logger.Logger

	watchGlobs *utils.PatternMatcher
	ignore     *utils.PatternMatcher
}

// New creates a backend for the given configuration. The worker pool is
// used to read artifacts concurrently; it must outlive the session.
func New(cfg *types.BuildConfig, projectRoot string, pool interfaces.WorkerPool, log logger.Logger) (*CommandBackend, error) {
	watchGlobs, err := utils.NewPatternMatcher(cfg.WatchPaths)
	if err != nil {
		return nil, fmt.Errorf("invalid watch patterns: %w", err)
	}
	ignore, err := utils.NewIgnoreMatcher(append([]string{cfg.ArtifactDir, "node_modules", ".git"}, cfg.Ignore...))
	if err != nil {
		return nil, fmt.Errorf("invalid ignore patterns: %w", err)
	}

	return &CommandBackend{
		cfg:         cfg,
		projectRoot: projectRoot,
		pool:        pool,
		log:         log,
		watchGlobs:  watchGlobs,
		ignore:      ignore,
	}, nil
}

// Build runs the configured command and assembles an execution result. A
// failing command yields a result with error diagnostics, not an error;
// only infrastructure failures (artifact collection) surface as errors.
func (b *CommandBackend) Build(ctx context.Context, rebuild *types.RebuildState) (*types.ExecutionResult, error) {
	started := time.Now()
	result := &types.ExecutionResult{ID: uuid.NewString()}
	log := b.log.WithBuild(result.ID)

	if rebuild != nil {
		log.Debug("Incremental build", logger.WithField("changed", len(rebuild.Changes.Paths())))
	}

	output, runErr := b.runCommand(ctx)
	result.Diagnostics = parseDiagnostics(output, runErr)
	result.Duration = time.Since(started)
	result.Disposer = func() {
		log.Debug("Released build resources")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if result.Succeeded() {
		files, err := b.collectArtifacts()
		if err != nil {
			return nil, err
		}
		result.OutputFiles = files
	}

	watchFiles, err := b.discoverWatchFiles()
	if err != nil {
		return nil, err
	}
	result.WatchFiles = watchFiles

	return result, nil
}

func (b *CommandBackend) runCommand(ctx context.Context) ([]byte, error) {
	cmd := b.createCommand(ctx, b.cfg.BuildCommand)
	cmd.Dir = b.projectRoot

	if len(b.cfg.Environment) > 0 {
		cmd.Env = os.Environ()
		for k, v := range b.cfg.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	b.log.Debug("Executing build command", logger.WithField("command", b.cfg.BuildCommand))
	err := cmd.Run()
	return buf.Bytes(), err
}

// createCommand routes compound commands through the shell and simple ones
// directly to exec.
func (b *CommandBackend) createCommand(ctx context.Context, command string) *exec.Cmd {
	if strings.ContainsAny(command, "&|;><$") {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// parseDiagnostics converts command output into structured diagnostics.
// Lines mentioning an error or warning keep their severity; on a non-zero
// exit at least one error diagnostic is guaranteed.
func parseDiagnostics(output []byte, runErr error) []types.Diagnostic {
	var diags []types.Diagnostic

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case containsWord(line, "error"):
			diags = append(diags, types.Diagnostic{Severity: types.SeverityError, Text: line})
		case containsWord(line, "warning"):
			diags = append(diags, types.Diagnostic{Severity: types.SeverityWarning, Text: line})
		}
	}

	if runErr != nil && !hasError(diags) {
		diags = append(diags, types.Diagnostic{
			Severity: types.SeverityError,
			Text:     fmt.Sprintf("build command failed: %v", runErr),
		})
	}
	return diags
}

func containsWord(line, word string) bool {
	lower := strings.ToLower(line)
	idx := strings.Index(lower, word)
	if idx < 0 {
		return false
	}
	// Reject substrings of identifiers like "errors_test.go".
	if idx > 0 && isWordByte(lower[idx-1]) {
		return false
	}
	end := idx + len(word)
	return end >= len(lower) || !isWordByte(lower[end])
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func hasError(diags []types.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == types.SeverityError {
			return true
		}
	}
	return false
}

// collectArtifacts reads everything the command wrote under the artifact
// directory. File contents are read through the worker pool.
func (b *CommandBackend) collectArtifacts() (map[string]types.OutputFile, error) {
	root := filepath.Join(b.projectRoot, b.cfg.ArtifactDir)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("build command did not create artifact directory %s", root)
		}
		return nil, fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	sort.Strings(paths)

	var mu sync.Mutex
	files := make(map[string]types.OutputFile, len(paths))
	tasks := make([]func() error, 0, len(paths))
	for _, path := range paths {
		path := path
		tasks = append(tasks, func() error {
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read artifact %s: %w", path, err)
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			file := classifyArtifact(filepath.ToSlash(rel), contents)

			mu.Lock()
			files[file.FullPath()] = file
			mu.Unlock()
			return nil
		})
	}

	if err := b.pool.Do(tasks); err != nil {
		return nil, err
	}
	return files, nil
}

// classifyArtifact assigns the output kind from the artifact's top-level
// directory: browser/ and server/ artifacts keep their kind with the
// prefix stripped, everything else lands at the output root.
func classifyArtifact(rel string, contents []byte) types.OutputFile {
	switch {
	case strings.HasPrefix(rel, "browser/"):
		return types.OutputFile{Path: strings.TrimPrefix(rel, "browser/"), Kind: types.OutputKindBrowser, Contents: contents}
	case strings.HasPrefix(rel, "server/"):
		return types.OutputFile{Path: strings.TrimPrefix(rel, "server/"), Kind: types.OutputKindServer, Contents: contents}
	default:
		return types.OutputFile{Path: rel, Kind: types.OutputKindRoot, Contents: contents}
	}
}

// discoverWatchFiles expands the configured source globs against the
// project tree.
func (b *CommandBackend) discoverWatchFiles() ([]string, error) {
	var watch []string
	err := filepath.WalkDir(b.projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory vanishing mid-walk is an ordinary race with the
			// build command; skip it.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rel, relErr := filepath.Rel(b.projectRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || b.ignore.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if b.ignore.Match(rel) {
			return nil
		}
		if b.watchGlobs.Match(rel) {
			watch = append(watch, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan watch paths: %w", err)
	}
	sort.Strings(watch)
	return watch, nil
}
