package engine

// DefaultEventBuffer is the capacity of the engine's event channel.
const DefaultEventBuffer = 256

// Status lines emitted on the event stream.
const (
	StatusRunning       = "running"
	StatusStopped       = "stopped"
	StatusMatchDetected = "match detected"
	StatusNoDevices     = "no devices reached"
)
