package peripherals

import (
	"mipsim/pkg/cpu"
)

const TimerType = "timer"

// Timer cell offsets.
const (
	TimerReset = 0
	TimerTicks = 1

	timerSize = 2
)

// Timer counts polls. Raising the reset cell zeroes the count.
type Timer struct {
	base int
}

func NewTimer() *Timer { return &Timer{} }

func (p *Timer) Name() string    { return TimerType }
func (p *Timer) Size() int       { return timerSize }
func (p *Timer) Attach(base int) { p.base = base }
func (p *Timer) Base() int       { return p.base }

func (p *Timer) Poll(c *cpu.CPU) error {
	if c.Memory[p.base+TimerReset] != 0 {
		c.Memory[p.base+TimerReset] = 0
		c.Memory[p.base+TimerTicks] = 0
		return nil
	}

	c.Memory[p.base+TimerTicks]++

	return nil
}
