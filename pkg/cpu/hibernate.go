package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"tlog.app/go/errors"
)

// StatefulPeripheral keeps state outside its memory block that must survive
// hibernation.
type StatefulPeripheral interface {
	Peripheral
	SaveState() []byte
	LoadState(data []byte) error
}

type mountedPeripheral struct {
	Name    string         `json:"name"`
	Base    int            `json:"base"`
	Size    int            `json:"size"`
	Options map[string]int `json:"options,omitempty"`
}

// humanReadableState is the JSON-serializable snapshot of engine control state.
type humanReadableState struct {
	PC                 int                 `json:"pc"`
	HI                 int32               `json:"hi"`
	LO                 int32               `json:"lo"`
	Halted             bool                `json:"halted"`
	ExitCode           int32               `json:"exit_code"`
	Steps              uint64              `json:"steps"`
	Heap               int                 `json:"heap"`
	MemorySize         int                 `json:"memory_size"`
	StackTop           int                 `json:"stack_top"`
	Registers          map[string]int32    `json:"registers"`
	MountedPeripherals []mountedPeripheral `json:"mounted_peripherals"`
}

// HibernateToBytes serialises the machine into an in-memory ZIP archive.
func (c *CPU) HibernateToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := humanReadableState{
		PC:         c.PC(),
		HI:         c.HI,
		LO:         c.LO,
		Halted:     c.Halted,
		ExitCode:   c.ExitCode,
		Steps:      c.Steps,
		Heap:       c.Heap,
		MemorySize: len(c.Memory),
		StackTop:   c.StackTop(),
		Registers:  make(map[string]int32, NumRegisters),
	}

	for i := 0; i < NumRegisters; i++ {
		state.Registers[RegisterName(i)] = c.Reg(i)
	}

	for _, m := range c.mounts {
		mp := mountedPeripheral{Name: m.p.Name(), Base: m.base, Size: m.p.Size()}
		if op, ok := m.p.(OptionedPeripheral); ok {
			mp.Options = op.Options()
		}
		state.MountedPeripherals = append(state.MountedPeripherals, mp)
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal cpu_state")
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}

	if err := writeZipEntry(zw, "memory.bin", int32SliceToLE(c.Memory)); err != nil {
		return nil, err
	}

	for i, m := range c.mounts {
		if sp, ok := m.p.(StatefulPeripheral); ok {
			if err := writeZipEntry(zw, fmt.Sprintf("peripheral_%d.bin", i), sp.SaveState()); err != nil {
				return nil, err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zip")
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies an archive produced by HibernateToBytes.
// Peripherals are rebuilt from the registry unless the CPU already has
// the same set mounted.
func (c *CPU) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.Wrap(err, "open zip")
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return err
	}
	var state humanReadableState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return errors.Wrap(err, "unmarshal cpu_state")
	}

	if state.MemorySize <= 0 {
		return errors.Wrap(ErrBadImage, "memory size %d", state.MemorySize)
	}

	if err := c.restoreMounts(state); err != nil {
		return err
	}

	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return err
	}
	if len(memData) != 4*state.MemorySize {
		return errors.Wrap(ErrBadImage, "memory.bin has %d bytes for %d cells", len(memData), state.MemorySize)
	}
	leToInt32Slice(memData, c.Memory)

	c.SetPC(state.PC)
	c.HI = state.HI
	c.LO = state.LO
	c.Halted = state.Halted
	c.ExitCode = state.ExitCode
	c.Steps = state.Steps
	c.Heap = state.Heap
	c.cfg.StackTop = state.StackTop
	c.cfg.MemorySize = state.MemorySize
	c.loaded = true

	for i, m := range c.mounts {
		sp, ok := m.p.(StatefulPeripheral)
		if !ok {
			continue
		}
		binData, err := readZipEntry(fileMap, fmt.Sprintf("peripheral_%d.bin", i))
		if err != nil {
			continue
		}
		if err := sp.LoadState(binData); err != nil {
			return errors.Wrap(err, "load peripheral %d state", i)
		}
	}

	return nil
}

func (c *CPU) restoreMounts(state humanReadableState) error {
	if len(c.mounts) != 0 {
		if len(c.mounts) != len(state.MountedPeripherals) {
			return errors.Wrap(ErrLayout, "snapshot has %d peripherals, cpu has %d", len(state.MountedPeripherals), len(c.mounts))
		}
		for i, mp := range state.MountedPeripherals {
			if m := c.mounts[i]; m.p.Name() != mp.Name || m.base != mp.Base {
				return errors.Wrap(ErrLayout, "peripheral %d: snapshot %v@%d, cpu %v@%d", i, mp.Name, mp.Base, m.p.Name(), m.base)
			}
		}
		if len(c.Memory) != state.MemorySize {
			return errors.Wrap(ErrLayout, "snapshot memory %d cells, cpu %d", state.MemorySize, len(c.Memory))
		}
		return nil
	}

	c.Memory = make([]int32, state.MemorySize)
	c.peripheralBase = state.MemorySize
	c.loaded = false

	for _, mp := range state.MountedPeripherals {
		p, ok := NewPeripheral(mp.Name, mp.Options)
		if !ok {
			return errors.Wrap(ErrLayout, "unknown peripheral %q", mp.Name)
		}
		base, err := c.Mount(p)
		if err != nil {
			return err
		}
		if base != mp.Base {
			return errors.Wrap(ErrLayout, "%v mounted at %d, snapshot says %d", mp.Name, base, mp.Base)
		}
	}

	return nil
}

func (c *CPU) HibernateToFile(path string) error {
	data, err := c.HibernateToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.RestoreFromBytes(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrap(err, "create zip entry %q", name)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, errors.New("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open zip entry %q", name)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func int32SliceToLE(src []int32) []byte {
	out := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func leToInt32Slice(src []byte, dst []int32) {
	for i := range dst {
		if i*4+3 < len(src) {
			dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
}
