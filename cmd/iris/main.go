// Command iris runs agent-based social influence simulations over a generated
// contact network.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talgya/iris/internal/logging"
)

var version = "0.1.0-dev"

// phaseError tags a failure with the stage of the run it came from.
type phaseError struct {
	phase string
	err   error
}

func (e *phaseError) Error() string { return e.phase + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func inPhase(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &phaseError{phase: phase, err: err}
}

func main() {
	rootCmd := newRootCmd(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "iris",
		Short: "Agent-based simulation of social influence on a generated network",
		Long: `iris builds a census-shaped population of families and friends, assigns
every agent categorical values and behaviors, marks a privileged minority
as powerful, and steps the population through time while agents revise
their behavior under pressure from their social groups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			slog.SetDefault(logging.NewLogger(level, logOut))
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level: info, debug, trace")
	rootCmd.PersistentFlags().String("directory", ".", "Directory holding params.cfg, values.csv and census.csv; runs are written beneath it")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newResumeCmd(),
		newValidateCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "iris version %s\n", version)
			}
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

// printError writes a phase diagnostic in the form
// "* Generation Error (aborting)" followed by the cause.
func printError(w io.Writer, err error) {
	var f *os.File
	if file, ok := w.(*os.File); ok {
		f = file
	}
	title := "Command Line Error"
	var pe *phaseError
	if errors.As(err, &pe) {
		title = pe.phase
		err = pe.err
	}
	fmt.Fprintf(w, "%s %s (aborting)\n", logging.Marker(f, "red"), title)
	fmt.Fprintf(w, "What happened: %v\n", err)
}

// inputPaths resolves the input files under dir unless overridden.
type inputPaths struct {
	Params string
	Values string
	Census string
}

func resolveInputs(cmd *cobra.Command) inputPaths {
	dir, _ := cmd.Flags().GetString("directory")
	paths := inputPaths{
		Values: filepath.Join(dir, "values.csv"),
		Census: filepath.Join(dir, "census.csv"),
	}
	if p, _ := cmd.Flags().GetString("params"); p != "" {
		paths.Params = p
	} else if legacy := filepath.Join(dir, "params.cfg"); fileExists(legacy) {
		paths.Params = legacy
	}
	if v, _ := cmd.Flags().GetString("values"); v != "" {
		paths.Values = v
	}
	if c, _ := cmd.Flags().GetString("census"); c != "" {
		paths.Census = c
	}
	return paths
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("params", "", "Parameter file (params.cfg or .yaml); defaults to <directory>/params.cfg when present")
	cmd.Flags().String("values", "", "Value/behavior dimension file (default <directory>/values.csv)")
	cmd.Flags().String("census", "", "Family size census file (default <directory>/census.csv)")
}
