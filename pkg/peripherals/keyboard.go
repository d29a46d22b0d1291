package peripherals

import (
	"encoding/binary"
	"sync"

	"tlog.app/go/errors"

	"mipsim/pkg/cpu"
)

const KeyboardType = "keyboard"

// Keyboard cell offsets.
const (
	KeyboardFlag    = 0
	KeyboardValue   = 1
	KeyboardPending = 2

	keyboardSize = 3
)

// Keyboard hands queued host keys to the program. The program raises the
// flag to request a key; the next poll stores it (or -1 when the queue is
// empty) and clears the flag. Push may be called from another goroutine.
type Keyboard struct {
	base int

	mu    sync.Mutex
	queue []int32
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (p *Keyboard) Name() string    { return KeyboardType }
func (p *Keyboard) Size() int       { return keyboardSize }
func (p *Keyboard) Attach(base int) { p.base = base }
func (p *Keyboard) Base() int       { return p.base }

func (p *Keyboard) Push(r rune) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, r)
}

func (p *Keyboard) Poll(c *cpu.CPU) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Memory[p.base+KeyboardFlag] != 0 {
		key := int32(-1)
		if len(p.queue) > 0 {
			key = p.queue[0]
			p.queue = p.queue[1:]
		}

		c.Memory[p.base+KeyboardValue] = key
		c.Memory[p.base+KeyboardFlag] = 0
	}

	c.Memory[p.base+KeyboardPending] = int32(len(p.queue))

	return nil
}

// SaveState serialises the pending key queue.
func (p *Keyboard) SaveState() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 4*len(p.queue))
	for i, k := range p.queue {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(k))
	}
	return buf
}

func (p *Keyboard) LoadState(data []byte) error {
	if len(data)%4 != 0 {
		return errors.New("keyboard state: %d bytes is not a whole number of keys", len(data))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = p.queue[:0]
	for i := 0; i < len(data); i += 4 {
		p.queue = append(p.queue, int32(binary.LittleEndian.Uint32(data[i:])))
	}
	return nil
}
