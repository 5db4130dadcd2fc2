package server

const ChatCapacity = 50

// ChatLog is a fixed-capacity ring buffer of chat messages. When full, each
// append evicts the oldest entry. It is not safe for concurrent use; the
// owning room's lock guards it.
type ChatLog struct {
	buf   []ChatMessage
	start int
	size  int
}

func NewChatLog(capacity int) *ChatLog {
	if capacity <= 0 {
		capacity = ChatCapacity
	}
	return &ChatLog{buf: make([]ChatMessage, capacity)}
}

func (l *ChatLog) Append(m ChatMessage) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = m
		l.size++
		return
	}
	l.buf[l.start] = m
	l.start = (l.start + 1) % len(l.buf)
}

// All returns the buffered messages oldest first. The slice is a copy.
func (l *ChatLog) All() []ChatMessage {
	out := make([]ChatMessage, l.size)
	for i := range out {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

func (l *ChatLog) Len() int {
	return l.size
}
