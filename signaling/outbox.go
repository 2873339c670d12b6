package signaling

import (
	"sync"

	"github.com/gorilla/websocket"
)

// outbox is an unbounded FIFO of text frames. Pushing never blocks; a
// single forwarder goroutine drains it into the socket.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push enqueues msg. It returns false once the outbox is closed.
func (o *outbox) push(msg string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, msg)
	o.mu.Unlock()
	o.cond.Signal()
	return true
}

// pop blocks for the next message. ok is false once the outbox is closed
// and drained.
func (o *outbox) pop() (msg string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.items) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.items) == 0 {
		return "", false
	}
	msg = o.items[0]
	o.items[0] = ""
	o.items = o.items[1:]
	return msg, true
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

// forward writes outbox messages to conn until the outbox closes or a write
// fails. It is the only writer of data frames on conn.
func forward(conn *websocket.Conn, o *outbox) error {
	for {
		msg, ok := o.pop()
		if !ok {
			return nil
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			o.close()
			return err
		}
	}
}
