package bus

import (
	"container/heap"

	"github.com/Hemanth-S/consensus-playground/raft/types"
	"github.com/Hemanth-S/consensus-playground/sim/random"
)

// New creates a new message bus. The random source is used for probabilistic
// drop rules and must be the cluster-wide one to keep runs reproducible.
func New(ticks TickSource, src *random.Source) *Bus {
	return &Bus{
		ticks:   ticks,
		src:     src,
		inboxes: map[types.NodeID][]Message{},
	}
}

// Bus routes messages between nodes. Rules are applied on send; delayed
// messages mature on Tick; inboxes preserve FIFO order per recipient.
// Single-threaded, cooperative: no rule or message is observed partially.
type Bus struct {
	ticks TickSource
	src   *random.Source

	rules   []Rule
	delayed delayQueue
	seq     uint64
	inboxes map[types.NodeID][]Message
}

// AddRule appends a rule to the ordered rule list. Mutating rules mid-tick is
// not supported.
func (b *Bus) AddRule(rule Rule) {
	b.rules = append(b.rules, rule)
}

// RemoveRule removes the rule at the given position in the list. Unknown
// positions are ignored.
func (b *Bus) RemoveRule(i int) {
	if i < 0 || i >= len(b.rules) {
		return
	}
	b.rules = append(b.rules[:i], b.rules[i+1:]...)
}

// ClearRules removes every rule.
func (b *Bus) ClearRules() {
	b.rules = nil
}

// Rules returns a copy of the ordered rule list.
func (b *Bus) Rules() []Rule {
	rules := make([]Rule, len(b.rules))
	copy(rules, b.rules)
	return rules
}

// Send routes a message through the rule list. The first matching rule
// decides the outcome; a DropProb rule that does not fire falls through as if
// it had not matched. With no matching rule the message is delivered to the
// recipient's inbox immediately.
func (b *Bus) Send(msg Message) {
	for _, rule := range b.rules {
		if !rule.Match.Matches(msg) {
			continue
		}
		switch rule.Action {
		case ActionPass:
			b.deliver(msg)
			return
		case ActionDrop:
			return
		case ActionDelay:
			b.seq++
			heap.Push(&b.delayed, delayedMessage{
				msg:          msg,
				deliveryTick: b.ticks.Now() + rule.DelayTicks,
				seq:          b.seq,
			})
			return
		case ActionDropProb:
			if b.src.Chance(rule.Pct) {
				return
			}
		}
	}
	b.deliver(msg)
}

// Tick drains every delayed message whose delivery tick has been reached, in
// (deliveryTick, insertion) order, into the recipient inboxes. The bus shares
// the cluster clock, so the driver advances time before calling this.
func (b *Bus) Tick() {
	now := b.ticks.Now()
	for b.delayed.Len() > 0 && b.delayed[0].deliveryTick <= now {
		dm := heap.Pop(&b.delayed).(delayedMessage)
		b.deliver(dm.msg)
	}
}

// Drain removes and returns all queued messages for a node in insertion
// order. Draining an empty inbox is a no-op.
func (b *Bus) Drain(id types.NodeID) []Message {
	msgs := b.inboxes[id]
	if len(msgs) == 0 {
		return nil
	}
	delete(b.inboxes, id)
	return msgs
}

// HasMessages reports whether the node has queued messages.
func (b *Bus) HasMessages(id types.NodeID) bool {
	return len(b.inboxes[id]) > 0
}

// InboxDepth returns the number of queued messages for a node.
func (b *Bus) InboxDepth(id types.NodeID) int {
	return len(b.inboxes[id])
}

// Pending returns the number of delayed messages not yet matured.
func (b *Bus) Pending() int {
	return b.delayed.Len()
}

func (b *Bus) deliver(msg Message) {
	b.inboxes[msg.To] = append(b.inboxes[msg.To], msg)
}

type delayedMessage struct {
	msg          Message
	deliveryTick types.Tick
	seq          uint64
}

type delayQueue []delayedMessage

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if q[i].deliveryTick != q[j].deliveryTick {
		return q[i].deliveryTick < q[j].deliveryTick
	}
	return q[i].seq < q[j].seq
}

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) {
	*q = append(*q, x.(delayedMessage))
}

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	dm := old[n-1]
	*q = old[:n-1]
	return dm
}
