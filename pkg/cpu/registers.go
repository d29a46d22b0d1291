package cpu

import (
	"strconv"
	"strings"
)

// Architectural registers live in the lowest cells of memory.
const (
	RegZero = 0
	RegAT   = 1
	RegV0   = 2
	RegV1   = 3
	RegA0   = 4
	RegA1   = 5
	RegA2   = 6
	RegA3   = 7
	RegT0   = 8
	RegT7   = 15
	RegS0   = 16
	RegS7   = 23
	RegT8   = 24
	RegT9   = 25
	RegK0   = 26
	RegK1   = 27
	RegGP   = 28
	RegSP   = 29
	RegFP   = 30
	RegRA   = 31

	NumRegisters = 32

	// RegPC is the cell holding the program counter.
	RegPC = 32

	// ProgramBase is the first cell after the register file and the reserved prefix.
	ProgramBase = 64
)

var registerNames = [NumRegisters]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

var registerIndex = func() map[string]int {
	m := make(map[string]int, NumRegisters+1)
	for i, n := range registerNames {
		m[n] = i
	}
	m["s8"] = RegFP
	return m
}()

// RegisterName returns the canonical name of register i without the sigil.
func RegisterName(i int) string {
	if i < 0 || i >= NumRegisters {
		return "r" + strconv.Itoa(i)
	}
	return registerNames[i]
}

// RegisterIndex resolves "$t0", "t0", "$8" or "8" to a register number.
func RegisterIndex(name string) (int, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "$")
	name = strings.ToLower(name)

	if i, ok := registerIndex[name]; ok {
		return i, true
	}

	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n >= NumRegisters {
		return 0, false
	}
	return n, true
}
