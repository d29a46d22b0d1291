package cpu

import "tlog.app/go/errors"

var (
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrUnmappedSyscall    = errors.New("unmapped syscall")
	ErrDivideByZero       = errors.New("division by zero")
	ErrMemoryAccess       = errors.New("memory access out of range")
	ErrHeapExhausted      = errors.New("heap exhausted")
	ErrStepLimit          = errors.New("step limit reached")
	ErrBadImage           = errors.New("bad program image")
	ErrLayout             = errors.New("memory layout conflict")
)
