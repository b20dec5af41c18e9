package touch

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// periph's i2c.Bus has the same Tx signature as drivers.I2C.
var _ drivers.I2C = (i2c.Bus)(nil)

// OpenI2C opens a host I2C bus by name ("" = first available, "1" or
// "/dev/i2c-1" for a specific bus).
func OpenI2C(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return bus, nil
}
