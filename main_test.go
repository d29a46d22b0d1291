//go:build !js

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"
)

const countdown = `
.main start
msg: .asciiz "go!"
start:
    li $s0, 3
again:
    move $a0, $s0
    li $v0, 1
    syscall
    addi $s0, $s0, -1
    bnez $s0, again
    la $a0, msg
    li $v0, 4
    syscall
    halt
`

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "prog.bin", defaultOutputPath("prog.s"))
	assert.Equal(t, "dir/prog.bin", defaultOutputPath("dir/prog"))
}

func TestAsmDisasmRun(t *testing.T) {
	src := writeFile(t, "countdown.s", countdown)
	bin := filepath.Join(filepath.Dir(src), "countdown.bin")

	out, err := execCLI(t, "asm", src, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "start:")
	assert.FileExists(t, bin)

	out, err = execCLI(t, "disasm", bin)
	require.NoError(t, err)
	assert.Contains(t, out, "=> ")
	assert.Contains(t, out, "syscall")

	out, err = execCLI(t, "run", bin)
	require.NoError(t, err)
	assert.Equal(t, "321go!", out)

	out, err = execCLI(t, "run", src)
	require.NoError(t, err)
	assert.Equal(t, "321go!", out)
}

func TestRunDumpAndSnapshot(t *testing.T) {
	src := writeFile(t, "countdown.s", countdown)
	snap := filepath.Join(filepath.Dir(src), "state.zip")

	out, err := execCLI(t, "run", src, "--dump", "-", "--snapshot", snap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "321go!"))
	assert.Contains(t, out, "$sp")

	out, err = execCLI(t, "dump", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "halted=true")
	assert.Contains(t, out, "console")

	// a halted machine resumes as halted
	out, err = execCLI(t, "run", "--restore", snap)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunExitCode(t *testing.T) {
	src := writeFile(t, "exit.s", "li $a0, 3\nli $v0, 17\nsyscall\n")

	_, err := execCLI(t, "run", src)

	var ee exitError
	require.True(t, errors.As(err, &ee), "err: %v", err)
	assert.Equal(t, int32(3), ee.code)
}

func TestRunErrors(t *testing.T) {
	_, err := execCLI(t, "run")
	assert.Error(t, err)

	_, err = execCLI(t, "run", writeFile(t, "bad.s", "frob $t0\n"))
	assert.Error(t, err)

	_, err = execCLI(t, "run", t.TempDir())
	assert.Error(t, err)

	_, err = execCLI(t, "run", writeFile(t, "loop.s", "top: j top\n"), "--max-steps", "100")
	assert.Error(t, err)
}

func TestDemo(t *testing.T) {
	out, err := execCLI(t, "demo")
	require.NoError(t, err)
	for _, n := range []string{"loop", "class", "floats", "logic", "calls"} {
		assert.Contains(t, out, n)
	}

	out, err = execCLI(t, "demo", "loop")
	require.NoError(t, err)
	assert.Equal(t, "sum=55\n", out)

	out, err = execCLI(t, "demo", "calls", "--asm")
	require.NoError(t, err)
	assert.Contains(t, out, "jal fact")
	assert.True(t, strings.HasSuffix(out, "720 55\n"))

	_, err = execCLI(t, "demo", "nope")
	assert.Error(t, err)
}

func TestConfigFlag(t *testing.T) {
	cfg := writeFile(t, "machine.yaml", "memory_size: 2048\nperipherals: []\n")
	src := writeFile(t, "countdown.s", countdown)

	out, err := execCLI(t, "--config", cfg, "run", src, "--dump", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "\n  2047 ")
	assert.NotContains(t, out, "\n  2048 ")

	_, err = execCLI(t, "--config", writeFile(t, "bad.yaml", "memory_size: 1\n"), "demo", "loop")
	assert.Error(t, err)
}
