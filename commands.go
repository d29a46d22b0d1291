//go:build !js

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"mipsim/pkg/asm"
	"mipsim/pkg/cpu"
	"mipsim/pkg/demo"
)

var (
	asmFlagOut  string
	asmFlagList bool

	runFlagDump     string
	runFlagSnapshot string
	runFlagRestore  string
	runFlagMaxSteps uint64

	demoFlagAsm        bool
	demoFlagDebugScope bool
)

func newAsmCommand() *cobra.Command {
	asmCmd := &cobra.Command{
		Use:   "asm [source_file]",
		Short: "Assemble a source file into a binary image",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssembler,
	}
	asmCmd.Flags().StringVarP(&asmFlagOut, "out", "o", "", "output image path (default: input with .bin extension)")
	asmCmd.Flags().BoolVar(&asmFlagList, "list", false, "print the address listing")
	return asmCmd
}

func runAssembler(cmd *cobra.Command, args []string) (err error) {
	p, err := assembleFile(cmd, args[0])
	if err != nil {
		return err
	}

	out := asmFlagOut
	if out == "" {
		out = defaultOutputPath(args[0])
	}

	if err := writeImage(out, p.Image); err != nil {
		return errors.Wrap(err, "write %v", out)
	}

	if asmFlagList {
		fmt.Fprint(cmd.OutOrStdout(), p.Listing(nil))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "assembled %d words -> %s\n", len(p.Image.Words), out)

	return nil
}

func newRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [source_or_image]",
		Short: "Run an assembly source, a binary image or a snapshot",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runProgram,
	}
	runCmd.Flags().StringVar(&runFlagDump, "dump", "", "write a memory dump after the run (- for stdout)")
	runCmd.Flags().StringVar(&runFlagSnapshot, "snapshot", "", "hibernate the machine into this file after the run")
	runCmd.Flags().StringVar(&runFlagRestore, "restore", "", "resume a hibernated machine instead of loading a program")
	runCmd.Flags().Uint64Var(&runFlagMaxSteps, "max-steps", 0, "stop after this many instructions")
	return runCmd
}

func runProgram(cmd *cobra.Command, args []string) (err error) {
	c, _, err := newMachine(cmd)
	if err != nil {
		return err
	}

	switch {
	case runFlagRestore != "":
		c = cpu.New(c.Config(), nil)
		if err := c.RestoreFromFile(runFlagRestore); err != nil {
			return errors.Wrap(err, "restore %v", runFlagRestore)
		}
	case len(args) == 1:
		im, err := loadImage(cmd, args[0])
		if err != nil {
			return err
		}
		if err := c.Load(im); err != nil {
			return err
		}
	default:
		return errors.New("nothing to run: provide a program or --restore")
	}

	return execute(cmd, c)
}

// execute runs c to completion and handles the dump, snapshot and exit code.
func execute(cmd *cobra.Command, c *cpu.CPU) (err error) {
	tr := tlog.SpanFromContext(cmd.Context())

	runErr := c.Run()

	tr.Printw("run finished", "steps", c.Steps, "halted", c.Halted, "exit_code", c.ExitCode, "err", runErr)

	if runFlagDump != "" {
		if err := dumpTo(cmd, c, runFlagDump); err != nil {
			return err
		}
	}

	if runFlagSnapshot != "" {
		if err := c.HibernateToFile(runFlagSnapshot); err != nil {
			return errors.Wrap(err, "hibernate")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%v %s\n", aurora.Cyan("snapshot"), runFlagSnapshot)
	}

	if runErr != nil {
		return runErr
	}

	if c.ExitCode != 0 {
		return exitError{code: c.ExitCode}
	}

	return nil
}

func newDemoCommand() *cobra.Command {
	demoCmd := &cobra.Command{
		Use:   "demo [name]",
		Short: "Compile and run a built-in program, or list them",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runDemo,
	}
	demoCmd.Flags().BoolVar(&demoFlagAsm, "asm", false, "print the generated assembly")
	demoCmd.Flags().BoolVar(&demoFlagDebugScope, "debug-scope", false, "dump the program tree and scope")
	demoCmd.Flags().StringVar(&runFlagDump, "dump", "", "write a memory dump after the run (- for stdout)")
	demoCmd.Flags().StringVar(&runFlagSnapshot, "snapshot", "", "hibernate the machine into this file after the run")
	return demoCmd
}

func runDemo(cmd *cobra.Command, args []string) (err error) {
	if len(args) == 0 {
		for _, n := range demo.Names() {
			p, _ := demo.Lookup(n)
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", aurora.Bold(n), p.Short)
		}
		return nil
	}

	p, err := demo.Lookup(args[0])
	if err != nil {
		return err
	}

	if demoFlagDebugScope {
		root, s := p.Tree()
		spew.Fdump(cmd.ErrOrStderr(), root, s.Globals(), s.Classes())
	}

	out, err := p.Compile(cmd.Context())
	if demoFlagAsm && out != nil {
		fmt.Fprint(cmd.OutOrStdout(), out.Assembly)
	}
	if err != nil {
		return errors.Wrap(err, "compile %v", p.Name)
	}

	c, _, err := newMachine(cmd)
	if err != nil {
		return err
	}

	if err := c.Load(out.Program.Image); err != nil {
		return err
	}

	return execute(cmd, c)
}

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [snapshot]",
		Short: "Print the memory of a hibernated machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cpu.New(cpu.Config{}, nil)
			if err := c.RestoreFromFile(args[0]); err != nil {
				return errors.Wrap(err, "restore %v", args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%v halted=%v exit=%d steps=%d\n",
				aurora.Bold(args[0]), c.Halted, c.ExitCode, c.Steps)

			for _, p := range c.Peripherals() {
				fmt.Fprintf(cmd.OutOrStdout(), "%v %s\n", aurora.Cyan("peripheral"), p.Name())
			}

			return c.Dump(cmd.OutOrStdout())
		},
	}
}

func newDisasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm [image]",
		Short: "Disassemble a binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openFile(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			im, err := asm.ReadImage(f)
			if err != nil {
				return err
			}

			set := cpu.NewInstructionSet()
			for i, w := range im.Words {
				addr := im.Origin + i
				marker := "  "
				if addr == im.Entry {
					marker = "=>"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %6d  %08x  %s\n", marker, addr, w, set.Disassemble(w))
			}

			return nil
		},
	}
}

func assembleFile(cmd *cobra.Command, path string) (*asm.Program, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	p, err := asm.Assemble(cmd.Context(), string(src))
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}

	return p, nil
}

// loadImage reads a binary image, or assembles anything that is not one.
func loadImage(cmd *cobra.Command, path string) (cpu.Image, error) {
	if filepath.Ext(path) != ".bin" {
		p, err := assembleFile(cmd, path)
		if err != nil {
			return cpu.Image{}, err
		}
		return p.Image, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cpu.Image{}, err
	}

	return asm.ReadImage(bytes.NewReader(data))
}

func writeImage(path string, im cpu.Image) error {
	var buf bytes.Buffer
	if err := asm.WriteImage(&buf, im); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func dumpTo(cmd *cobra.Command, c *cpu.CPU, path string) error {
	if path == "-" {
		return c.Dump(cmd.OutOrStdout())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.Dump(f)
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ".bin"
	}
	return strings.TrimSuffix(inPath, ext) + ".bin"
}
