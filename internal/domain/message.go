package domain

// Message is a validated inbound relay frame.
//
// Payload holds the exact bytes the sender transmitted. Fan-out and answer
// forwarding write Payload unchanged, so fields the relay does not model
// survive the round trip.
type Message struct {
	Key       string
	Text      string
	IsMaster  bool
	CanAnswer bool
	MessageID string
	Answer    string
	Payload   []byte
}

// Namespace returns the group namespace the message belongs to.
func (m Message) Namespace() Namespace {
	if m.CanAnswer {
		return NamespaceArbitrated
	}
	return NamespaceBroadcast
}

// Ref returns the group the message addresses.
func (m Message) Ref() GroupRef {
	return GroupRef{Namespace: m.Namespace(), Key: m.Key}
}

// IsAnswer reports whether the message carries an answer to an outstanding question.
func (m Message) IsAnswer() bool {
	return m.Answer != ""
}
