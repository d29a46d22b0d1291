package compiler

import (
	"mipsim/pkg/cpu"
)

// builtin is a runtime function backed by a single syscall.
type builtin struct {
	name    string
	ret     string
	params  []string
	syscall int

	// payload skips the size header of an allocation.
	payload bool
}

var builtins = []*builtin{
	{name: "print_int", ret: TypeVoid, params: []string{TypeInt}, syscall: cpu.SysPrintInt},
	{name: "print_float", ret: TypeVoid, params: []string{TypeFloat}, syscall: cpu.SysPrintFloat},
	{name: "print_string", ret: TypeVoid, params: []string{TypeString}, syscall: cpu.SysPrintString},
	{name: "print_char", ret: TypeVoid, params: []string{TypeInt}, syscall: cpu.SysPrintChar},
	{name: "read_int", ret: TypeInt, syscall: cpu.SysReadInt},
	{name: "read_float", ret: TypeFloat, syscall: cpu.SysReadFloat},
	{name: "read_char", ret: TypeInt, syscall: cpu.SysReadChar},
	{name: "alloc", ret: TypeInt, params: []string{TypeInt}, syscall: cpu.SysAlloc, payload: true},
	{name: "exit", ret: TypeVoid, params: []string{TypeInt}, syscall: cpu.SysExitCode},
	{name: "time", ret: TypeInt, syscall: cpu.SysTime},
}

func builtinLabel(name string) string { return "__" + name }

// builtins emits one stub per builtin the program called.
func (g *Generator) builtins(s *Scope) {
	for _, b := range builtins {
		if !s.u.used[b.name] {
			continue
		}

		g.label(builtinLabel(b.name))
		g.line("    li %s, %d", regV0, b.syscall)
		g.line("    syscall")
		if b.payload {
			g.line("    addi %s, %s, 1", regV0, regV0)
		}
		g.line("    jr $ra")
	}
}
