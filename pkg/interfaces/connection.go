package interfaces

// Emitter delivers outbound events to one client connection.
type Emitter interface {
	// Emit sends an event-tagged frame. Safe for concurrent use; implementations
	// serialize writes.
	Emit(event string, payload any) error

	// ID returns the connection identifier.
	ID() string
}
