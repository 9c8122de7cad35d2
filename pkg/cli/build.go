package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/celestius0/angular-cli/internal/backend"
	"github.com/celestius0/angular-cli/internal/orchestrator"
	"github.com/celestius0/angular-cli/pkg/config"
	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/notifier"
	"github.com/celestius0/angular-cli/pkg/process"
	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/workers"
)

type buildFlags struct {
	watch            bool
	pollMs           int
	outputPath       string
	deleteOutputPath bool
	preserveSymlinks bool
	clearScreen      bool
	noWrite          bool
	notify           bool
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project, optionally rebuilding on file changes",
		Long: `Run the configured build command once, or keep rebuilding whenever
watched source files change (--watch). Artifacts are written atomically
into the output path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Viper resolves flag > NG_* environment > default.
			flags.watch = viper.GetBool("watch")
			flags.pollMs = viper.GetInt("poll")
			return runBuild(flags)
		},
	}

	cmd.Flags().BoolVar(&flags.watch, "watch", false, "rebuild on file changes")
	cmd.Flags().IntVar(&flags.pollMs, "poll", 0, "poll for changes every N milliseconds instead of using file-system events")
	cmd.Flags().StringVar(&flags.outputPath, "output-path", "dist", "directory for build artifacts, relative to the project root")
	cmd.Flags().BoolVar(&flags.deleteOutputPath, "delete-output-path", true, "delete the output path before the first build")
	cmd.Flags().BoolVar(&flags.preserveSymlinks, "preserve-symlinks", false, "watch symlinked sources through their targets")
	cmd.Flags().BoolVar(&flags.clearScreen, "clear-screen", false, "clear the terminal before each rebuild")
	cmd.Flags().BoolVar(&flags.noWrite, "no-write", false, "keep artifacts in memory instead of writing them to disk")
	cmd.Flags().BoolVar(&flags.notify, "notify", false, "send a desktop notification per build outcome")

	_ = viper.BindPFlag("watch", cmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("poll", cmd.Flags().Lookup("poll"))

	return cmd
}

func runBuild(flags buildFlags) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	configPath := cfgFile
	if configPath == "" {
		configPath, err = config.Discover(root)
		if err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.CreateLogger("", verbosity)

	pool := workers.Acquire(log)
	builder, err := backend.New(cfg, root, pool, log)
	if err != nil {
		pool.Shutdown()
		return err
	}

	outputPath := flags.outputPath
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(root, outputPath)
	}

	opts := types.Options{
		ProjectRoot:            root,
		OutputPath:             outputPath,
		WriteToFileSystem:      !flags.noWrite,
		Watch:                  flags.watch,
		PollInterval:           time.Duration(flags.pollMs) * time.Millisecond,
		FollowSymlinks:         flags.preserveSymlinks,
		ClearScreenOnRebuild:   flags.clearScreen,
		DeleteOutputPath:       flags.deleteOutputPath,
		WatchProjectRootConfig: true,
		ExtraIgnore:            cfg.Ignore,
	}

	orch := orchestrator.New(opts, interfaces.Dependencies{
		WorkerPool: pool,
		Notifier:   notifier.New(flags.notify, log),
	}, log)

	manager := process.NewManager(log)
	ctx := manager.Context(context.Background())
	defer manager.Stop()

	printInfo(fmt.Sprintf("Building %s", root))
	if flags.watch {
		printInfo("Watch mode enabled, press Ctrl+C to stop")
	}

	stream := orch.Run(ctx, builder.Build)
	failed := false
	for out := range stream.Results() {
		failed = !out.Success
		printSummary(out)
	}

	if err := stream.Err(); err != nil {
		printError(err.Error())
		return err
	}
	if failed && !flags.watch {
		return fmt.Errorf("build failed")
	}
	return nil
}

func printSummary(out types.BuildOutput) {
	duration := out.Duration.Round(time.Millisecond)
	if out.Success {
		printInfo(fmt.Sprintf("Build %.8s succeeded in %s", out.ID, duration))
	} else {
		errs := 0
		for _, d := range out.Diagnostics {
			if d.Severity == types.SeverityError {
				errs++
			}
		}
		printError(fmt.Sprintf("Build %.8s failed with %d error(s) after %s", out.ID, errs, duration))
	}
}
