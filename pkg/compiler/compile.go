package compiler

import (
	"context"

	"tlog.app/go/tlog"

	"mipsim/pkg/asm"
	"mipsim/pkg/cpu"
)

// EntryLabel is where a compiled program starts.
const EntryLabel = "__start"

type Output struct {
	Assembly string
	Program  *asm.Program
}

// Generate emits the whole program: root, a final exit, the builtin stubs
// that were called and the data section.
func Generate(root Node, s *Scope) (string, error) {
	g := NewGenerator()

	g.line(".main %s", EntryLabel)
	g.label(EntryLabel)

	if _, err := root.Gen(g, s); err != nil {
		return "", err
	}

	g.line("    li %s, %d    ; exit", regV0, cpu.SysExit)
	g.line("    syscall")

	g.builtins(s)
	g.data(s)

	return g.String(), nil
}

// Compile generates and assembles root with the default instruction set.
func Compile(ctx context.Context, root Node, s *Scope) (out *Output, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile")
	defer tr.Finish("err", &err)

	text, err := Generate(root, s)
	if err != nil {
		return nil, err
	}

	if tr.If("codegen") {
		tr.Printw("generated", "assembly", text)
	}

	p, err := asm.New(cpu.NewInstructionSet()).Assemble(ctx, text)
	if err != nil {
		return &Output{Assembly: text}, err
	}

	tr.Printw("compiled", "words", len(p.Image.Words), "globals", len(s.Globals()))

	return &Output{Assembly: text, Program: p}, nil
}
