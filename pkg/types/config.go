package types

// BuildConfig is the on-disk configuration consumed by the CLI. It
// describes how the command backend produces artifacts; the orchestrator
// itself never reads it.
type BuildConfig struct {
	Version string `json:"version" yaml:"version"`

	// BuildCommand is the shell command that produces the artifacts.
	BuildCommand string `json:"buildCommand" yaml:"buildCommand"`

	// ArtifactDir is where BuildCommand writes its output, relative to the
	// project root. Artifacts under browser/ and server/ keep their kind.
	ArtifactDir string `json:"artifactDir" yaml:"artifactDir"`

	// WatchPaths are glob patterns, relative to the project root, selecting
	// the source files whose changes trigger rebuilds.
	WatchPaths []string `json:"watchPaths" yaml:"watchPaths"`

	// Environment is merged over the inherited environment for BuildCommand.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Ignore supplements the mandatory watch exclusions.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// ConfigVersion is the only config schema version this binary understands.
const ConfigVersion = "1"
