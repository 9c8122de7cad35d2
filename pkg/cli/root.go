// Package cli provides the ng command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

var rootCmd = &cobra.Command{
	Use:   "ng",
	Short: "Incremental build orchestrator with file watching",
	Long: `ng builds your project and, in watch mode, keeps rebuilding it
incrementally as source files change. The build itself is delegated to the
command configured in the build config file; ng orchestrates watching,
rebuild scheduling, and output materialization.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("ng v%s\n", version)
			return
		}
		_ = cmd.Help()
	},
}

// Execute runs the CLI.
func Execute(v string) error {
	version = v
	initializeRootCommand()
	return rootCmd.Execute()
}

func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "build config file (default: ngbuild.json|yaml in the project root)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "print version information and quit")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	viper.SetEnvPrefix("NG")
	viper.AutomaticEnv()
}

func printInfo(message string) {
	fmt.Printf("%s %s\n", color.CyanString("[ng]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("[ng]"), message)
}
