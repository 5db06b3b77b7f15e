package browser

import "fmt"

// New selects an engine implementation by mode. "mock" runs the simulated
// engine; real CDP-backed engines are separate modules implementing Engine
// and are wired in by the embedding binary.
func New(mode string) (Engine, error) {
	switch mode {
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine mode: %s (use 'mock' or provide an external engine)", mode)
	}
}
