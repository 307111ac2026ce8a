package smtp

import (
	"sync"
	"time"
)

// Message is a captured message.
type Message struct {
	From       string
	Recipients []string
	Subject    string
	// Body is the decoded text body.
	Body       string
	Raw        []byte
	ReceivedAt time.Time
}

// Inbox keeps the last capacity messages received by the sink.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	messages []Message
}

// NewInbox creates an Inbox holding at most capacity messages. A capacity
// below one is treated as one.
func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{capacity: capacity}
}

// Add appends msg, evicting the oldest message when full.
func (in *Inbox) Add(msg Message) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.messages) == in.capacity {
		copy(in.messages, in.messages[1:])
		in.messages = in.messages[:len(in.messages)-1]
	}
	in.messages = append(in.messages, msg)
}

// Messages returns a copy of the captured messages, oldest first.
func (in *Inbox) Messages() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]Message, len(in.messages))
	copy(out, in.messages)
	return out
}

// Len returns the number of captured messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.messages)
}
