package ports

// MessageIngest defines the interface for frontends that feed raw
// messages into the detection pipeline.
type MessageIngest interface {
	// Start starts accepting messages.
	Start() error

	// Stop stops accepting messages.
	Stop() error
}
