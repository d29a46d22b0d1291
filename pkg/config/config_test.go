package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mipsim/pkg/cpu"
	"mipsim/pkg/peripherals"
)

func TestDefault(t *testing.T) {
	m := Default()
	require.NoError(t, m.Validate())

	c, err := m.Build(nil, nil)
	require.NoError(t, err)

	ps := c.Peripherals()
	require.Len(t, ps, 3)
	assert.Equal(t, peripherals.ConsoleType, ps[0].Name())
	assert.Equal(t, peripherals.KeyboardType, ps[1].Name())
	assert.Equal(t, peripherals.TimerType, ps[2].Name())

	assert.Equal(t, cpu.DefaultMemorySize-3-3-2, c.PeripheralBase())
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`
memory_size: 4096
max_steps: 1000
display:
  cols: 20
  rows: 4
peripherals:
  - kind: console
  - kind: display
  - kind: display
    options:
      rows: 2
trace: [cpu_trace, asm_dump]
`))
	require.NoError(t, err)

	assert.Equal(t, 4096, m.MemorySize)
	assert.Equal(t, uint64(1000), m.MaxSteps)
	assert.Equal(t, "cpu_trace,asm_dump", m.Verbosity())

	var out bytes.Buffer
	c, err := m.Build(nil, &out)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), c.Config().MaxSteps)
	assert.Equal(t, &out, c.Stdout())

	ps := c.Peripherals()
	require.Len(t, ps, 3)

	d1 := ps[1].(*peripherals.Display)
	assert.Equal(t, 20, d1.Cols())
	assert.Equal(t, 4, d1.Rows())

	d2 := ps[2].(*peripherals.Display)
	assert.Equal(t, 20, d2.Cols())
	assert.Equal(t, 2, d2.Rows())

	assert.Equal(t, 4096-3-81-41, c.PeripheralBase())
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"Syntax", "memory_size: [1"},
		{"TinyMemory", "memory_size: 10"},
		{"StackOutside", "memory_size: 1000\nstack_top: 2000"},
		{"UnknownPeripheral", "peripherals:\n  - kind: printer"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuildNoRoom(t *testing.T) {
	m := Default()
	m.MemorySize = 100
	m.Peripherals = []Peripheral{{Kind: peripherals.DisplayType}}

	_, err := m.Build(nil, nil)
	assert.ErrorIs(t, err, cpu.ErrLayout)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stack_top: 30000\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30000, m.StackTop)
	assert.Equal(t, cpu.DefaultMemorySize, m.MemorySize)
	assert.Len(t, m.Peripherals, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
