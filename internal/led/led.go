// Package led provides LED output drivers with hardware abstraction.
// The real implementation drives Linux GPIO output lines.
// The fake implementation records rendered patterns for tests.
package led

import "github.com/sweeney/touch-led/internal/logic"

// Driver renders decoded display states.
type Driver interface {
	// Initialize claims the outputs. Calling it again is a no-op.
	Initialize() error

	// Reset turns every LED off and forgets the previous display state.
	Reset() error

	// Render applies a pattern. It must return promptly; failures are
	// handled inside the driver.
	Render(p logic.Pattern)

	// Close turns the LEDs off and releases the outputs.
	Close() error
}

// DefaultChip is the GPIO chip used for LED outputs.
const DefaultChip = "gpiochip0"

// DefaultPins are the BCM offsets of four LEDs, one per default touch key.
var DefaultPins = []int{5, 6, 13, 19}
