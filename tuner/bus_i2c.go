package tuner

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// I2CBus runs the register transactions on a kernel I2C adapter via
// periph.io. The kernel handles START/STOP and acknowledges, so failures
// are reported as PhaseTransfer.
type I2CBus struct {
	bus  i2c.BusCloser
	dev  *i2c.Dev
	name string
}

// OpenI2C opens the named I2C bus ("" selects the first one) and returns a
// Bus for the device at addr. speedHz of 0 keeps the adapter's speed.
func OpenI2C(name string, addr uint16, speedHz int64) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", name, err)
	}

	if speedHz > 0 {
		if err := bus.SetSpeed(physic.Frequency(speedHz) * physic.Hertz); err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to set I2C speed to %d Hz: %w", speedHz, err)
		}
	}

	return &I2CBus{
		bus:  bus,
		dev:  &i2c.Dev{Bus: bus, Addr: addr},
		name: name,
	}, nil
}

// ReadAll reads the 32-byte register burst.
func (b *I2CBus) ReadAll() (Image, error) {
	buf := make([]byte, readBurstLen)
	if err := b.dev.Tx(nil, buf); err != nil {
		return Image{}, &BusError{Op: "read", Phase: PhaseTransfer, Err: err}
	}
	return decodeReadBurst(buf), nil
}

// WriteSubset writes the 12-byte control register burst.
func (b *I2CBus) WriteSubset(img Image) error {
	if err := b.dev.Tx(encodeWriteBurst(img), nil); err != nil {
		return &BusError{Op: "write", Phase: PhaseTransfer, Err: err}
	}
	return nil
}

// Close releases the I2C adapter.
func (b *I2CBus) Close() error {
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

func (b *I2CBus) String() string {
	return fmt.Sprintf("i2c %q (%s) addr 0x%02X", b.name, b.bus, b.dev.Addr)
}
