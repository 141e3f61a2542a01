package model

// Notifier delivers alert summaries. body is HTML.
type Notifier interface {
	Send(subject, body string) error
}
