package domain

// Connection is the relay's view of a transport endpoint.
//
// Implementations are owned by the transport; the relay only holds references
// for membership. Send must not block: it queues the frame for delivery and
// returns an error when the frame cannot be queued.
type Connection interface {
	ID() string
	Send(frame []byte) error
}
