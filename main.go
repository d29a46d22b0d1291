//go:build !js

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"mipsim/pkg/config"
	"mipsim/pkg/cpu"
)

var (
	rootFlagVerbose string
	rootFlagConfig  string
)

// exitError carries a non-zero program exit code out of the run commands.
type exitError struct {
	code int32
}

func (e exitError) Error() string { return fmt.Sprintf("program exited with code %d", e.code) }

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mipsim",
		Short: "Assemble, compile and run programs for a MIPS-like virtual CPU",

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			m, err := machine()
			if err != nil {
				return err
			}

			v := m.Verbosity()
			if rootFlagVerbose != "" {
				v = rootFlagVerbose
			}
			tlog.SetVerbosity(v)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&rootFlagVerbose, "verbose", "v", "", "tlog verbosity topics: cpu_trace, asm_dump, codegen")
	rootCmd.PersistentFlags().StringVarP(&rootFlagConfig, "config", "c", "", "machine config file (YAML)")

	rootCmd.AddCommand(newAsmCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDemoCommand())
	rootCmd.AddCommand(newDumpCommand())
	rootCmd.AddCommand(newDisasmCommand())

	return rootCmd
}

func main() {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(int(ee.code))
	}

	fmt.Fprintln(os.Stderr, aurora.Red("error:"), err)
	os.Exit(1)
}

// machine returns the config named by --config, or the default one.
func machine() (config.Machine, error) {
	if rootFlagConfig == "" {
		return config.Default(), nil
	}
	return config.Load(rootFlagConfig)
}

// newMachine builds a CPU from the config with the process stdio attached.
func newMachine(cmd *cobra.Command) (*cpu.CPU, config.Machine, error) {
	m, err := machine()
	if err != nil {
		return nil, m, err
	}

	if runFlagMaxSteps != 0 {
		m.MaxSteps = runFlagMaxSteps
	}

	c, err := m.Build(cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return nil, m, err
	}

	return c, m, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, errors.New("'%s' is a directory, please provide a file", path)
	}

	return f, nil
}
