package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Bus re-exports the EventBus interface so callers do not import the vendor
// package directly.
type Bus = evbus.Bus

// New creates a synchronous event bus.
func New() Bus {
	return evbus.New()
}
