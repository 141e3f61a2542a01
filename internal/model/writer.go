package model

// Writer defines a generic interface for shipping collector snapshots to an external sink.
type Writer interface {
	// Write takes one snapshot and delivers it.
	Write(snapshot *Snapshot) error

	// Name identifies the writer in logs and metrics.
	Name() string

	Close() error
}
