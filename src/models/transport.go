package models

type TransportEventKind int

const (
	TransportMessage TransportEventKind = iota
	TransportClosed
)

// MTransportEvent is emitted by an upstream transport session.
// A closed event is always the last one on the session channel.
type MTransportEvent struct {
	Kind TransportEventKind
	Data []byte
	Err  error
}
