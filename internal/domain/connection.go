package domain

// Connection is one physical transport session of a participant.
// Owned by the transport adapter; the adapter must Close() it.
type Connection interface {
	ID() ConnectionID
	Participant() ParticipantID
	// TrySend queues a frame without blocking; a full queue is an error.
	TrySend(frame []byte) error
	Close()
}
