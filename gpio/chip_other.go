//go:build !linux

package gpio

// Consumer is the label lines are requested under, visible in gpioinfo
var Consumer = "galvo"

// ChipBank is only available on Linux
type ChipBank struct {
	Chip string
}

// NewChipBank returns a bank that fails every request on this platform
func NewChipBank(chip string) *ChipBank {
	return &ChipBank{Chip: chip}
}

// Output always returns a HardwareFault
func (b *ChipBank) Output(pin int) (Output, error) {
	return nil, &HardwareFault{Pin: pin, Op: "request", Err: errUnsupported}
}

// Close is a no-op
func (b *ChipBank) Close() error {
	return nil
}

// MemBank is only available on Linux
type MemBank struct{}

// NewMemBank always fails on this platform
func NewMemBank() (*MemBank, error) {
	return nil, &HardwareFault{Pin: -1, Op: "open", Err: errUnsupported}
}

// Output always returns a HardwareFault
func (b *MemBank) Output(pin int) (Output, error) {
	return nil, &HardwareFault{Pin: pin, Op: "request", Err: errUnsupported}
}

// Close is a no-op
func (b *MemBank) Close() error {
	return nil
}
