package bus

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/Hemanth-S/consensus-playground/raft/types"
)

// Kind identifies the RPC carried by a message. The set is closed.
type Kind string

const (
	// KindRequestVote is sent by candidates to request votes.
	KindRequestVote Kind = "RequestVote"
	// KindRequestVoteResp is the response to a RequestVote.
	KindRequestVoteResp Kind = "RequestVoteResp"
	// KindAppendEntries is sent by leaders to replicate entries and as heartbeat.
	KindAppendEntries Kind = "AppendEntries"
	// KindAppendEntriesResp is the response to an AppendEntries.
	KindAppendEntriesResp Kind = "AppendEntriesResp"
)

// NewMessage creates a message. The trace ID is drawn from uuid and exists
// only for introspection output; it takes no part in equality.
func NewMessage(from, to types.NodeID, kind Kind, payload any) Message {
	return Message{
		From:    from,
		To:      to,
		Kind:    kind,
		Payload: payload,
		TraceID: uuid.New(),
	}
}

// Message is an immutable record routed between nodes. Once sent it is owned
// by the bus, once delivered by the recipient's inbox.
type Message struct {
	From    types.NodeID
	To      types.NodeID
	Kind    Kind
	Payload any
	TraceID uuid.UUID
}

// Equal reports structural equality over sender, recipient, kind and payload.
func (m Message) Equal(o Message) bool {
	return m.From == o.From && m.To == o.To && m.Kind == o.Kind && reflect.DeepEqual(m.Payload, o.Payload)
}

// String formats the message, including its trace ID.
func (m Message) String() string {
	return fmt.Sprintf("%s: %s -> %s [%s]", m.Kind, m.From, m.To, m.TraceID)
}
