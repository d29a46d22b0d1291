// Package config loads the machine description used by the CLI and the
// desktop front end.
package config

import (
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"mipsim/pkg/cpu"
	"mipsim/pkg/peripherals"
)

type Peripheral struct {
	Kind    string         `yaml:"kind"`
	Options map[string]int `yaml:"options,omitempty"`
}

// Display is the default geometry for display peripherals that do not set
// their own cols and rows.
type Display struct {
	Cols int `yaml:"cols"`
	Rows int `yaml:"rows"`
}

type Machine struct {
	MemorySize int    `yaml:"memory_size"`
	StackTop   int    `yaml:"stack_top,omitempty"`
	MaxSteps   uint64 `yaml:"max_steps,omitempty"`

	// Peripherals are mounted in order, the first one at the top of memory.
	Peripherals []Peripheral `yaml:"peripherals"`
	Display     Display      `yaml:"display"`

	// Trace lists tlog verbosity topics, e.g. cpu_trace or asm_dump.
	Trace []string `yaml:"trace,omitempty"`
}

func Default() Machine {
	return Machine{
		MemorySize: cpu.DefaultMemorySize,
		Peripherals: []Peripheral{
			{Kind: peripherals.ConsoleType},
			{Kind: peripherals.KeyboardType},
			{Kind: peripherals.TimerType},
		},
		Display: Display{
			Cols: peripherals.DefaultDisplayCols,
			Rows: peripherals.DefaultDisplayRows,
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (m Machine, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrap(err, "read config")
	}

	m, err = Parse(data)
	if err != nil {
		return m, errors.Wrap(err, "%v", path)
	}

	return m, nil
}

func Parse(data []byte) (Machine, error) {
	m := Default()

	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "parse config")
	}

	return m, m.Validate()
}

func (m Machine) Validate() error {
	if m.MemorySize <= cpu.ProgramBase {
		return errors.New("memory_size %d leaves no room for a program", m.MemorySize)
	}
	if m.StackTop < 0 || m.StackTop > m.MemorySize {
		return errors.New("stack_top %d outside memory", m.StackTop)
	}

	for i, p := range m.Peripherals {
		if _, ok := cpu.NewPeripheral(p.Kind, nil); !ok {
			return errors.New("peripherals[%d]: unknown kind %q", i, p.Kind)
		}
	}

	return nil
}

// CPUConfig converts m to the engine configuration.
func (m Machine) CPUConfig(stdin io.Reader, stdout io.Writer) cpu.Config {
	return cpu.Config{
		MemorySize: m.MemorySize,
		StackTop:   m.StackTop,
		MaxSteps:   m.MaxSteps,
		Stdin:      stdin,
		Stdout:     stdout,
	}
}

// Verbosity is the tlog filter for the configured trace topics.
func (m Machine) Verbosity() string {
	return strings.Join(m.Trace, ",")
}

func (m Machine) options(p Peripheral) map[string]int {
	if p.Kind != peripherals.DisplayType {
		return p.Options
	}

	opts := map[string]int{"cols": m.Display.Cols, "rows": m.Display.Rows}
	for k, v := range p.Options {
		opts[k] = v
	}

	return opts
}

// Build creates a CPU with every configured peripheral mounted.
func (m Machine) Build(stdin io.Reader, stdout io.Writer) (*cpu.CPU, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	c := cpu.New(m.CPUConfig(stdin, stdout), nil)

	for _, p := range m.Peripherals {
		dev, _ := cpu.NewPeripheral(p.Kind, m.options(p))

		if _, err := c.Mount(dev); err != nil {
			return nil, errors.Wrap(err, "mount %v", p.Kind)
		}
	}

	return c, nil
}
