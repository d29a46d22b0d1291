package cpu

// Peripheral is a memory-mapped device. It owns Size cells starting at the
// base passed to Attach and is polled once after every executed instruction.
type Peripheral interface {
	Name() string
	Size() int
	Attach(base int)
	Poll(c *CPU) error
}

// PeripheralFactory builds a peripheral from its snapshot or config options.
type PeripheralFactory func(opts map[string]int) Peripheral

var peripheralRegistry = make(map[string]PeripheralFactory)

// RegisterPeripheral makes a peripheral kind available to snapshots and config.
func RegisterPeripheral(name string, factory PeripheralFactory) {
	peripheralRegistry[name] = factory
}

// NewPeripheral builds a registered peripheral kind.
func NewPeripheral(name string, opts map[string]int) (Peripheral, bool) {
	f, ok := peripheralRegistry[name]
	if !ok {
		return nil, false
	}
	return f(opts), true
}

// OptionedPeripheral reports the options needed to rebuild it.
type OptionedPeripheral interface {
	Peripheral
	Options() map[string]int
}
