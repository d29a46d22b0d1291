package peripherals

import "mipsim/pkg/cpu"

func init() {
	cpu.RegisterPeripheral(ConsoleType, func(map[string]int) cpu.Peripheral { return NewConsole() })
	cpu.RegisterPeripheral(KeyboardType, func(map[string]int) cpu.Peripheral { return NewKeyboard() })
	cpu.RegisterPeripheral(TimerType, func(map[string]int) cpu.Peripheral { return NewTimer() })
	cpu.RegisterPeripheral(DisplayType, func(opts map[string]int) cpu.Peripheral {
		return NewDisplay(opts["cols"], opts["rows"])
	})
}
