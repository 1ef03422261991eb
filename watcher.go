package dbus

import (
	"net"
	"sync"

	"github.com/creachadair/mds/queue"
)

// maxWatcherQueue bounds how many undelivered notifications a Watcher
// will buffer. Once it is full, newly arriving notifications are
// dropped and the last queued one is marked with Overflow.
const maxWatcherQueue = 20

// SignalFilter selects which signals a Watcher delivers. An empty
// field matches any value; a Watcher with a zero SignalFilter
// receives every signal the connection observes.
type SignalFilter struct {
	Sender    string
	Path      ObjectPath
	Interface string
	Member    string
}

func (f SignalFilter) matches(m *Message) bool {
	if f.Sender != "" && f.Sender != m.Sender {
		return false
	}
	if f.Path != "" && f.Path != m.Path {
		return false
	}
	if f.Interface != "" && f.Interface != m.Interface {
		return false
	}
	if f.Member != "" && f.Member != m.Member {
		return false
	}
	return true
}

// Notification is one signal delivered to a Watcher.
type Notification struct {
	*Message
	// Overflow reports that the Watcher discarded notifications that
	// followed this one, because the caller wasn't draining Chan()
	// fast enough.
	Overflow bool
}

// Watcher delivers signals received on a Conn that match a
// SignalFilter.
type Watcher struct {
	conn   *Conn
	filter SignalFilter

	wakePump    chan struct{}
	out         chan *Notification
	pumpStopped chan struct{}

	mu     sync.Mutex
	closed bool
	queue  queue.Queue[*Notification]
}

// Watch starts watching c for signals matching filter. Callers must
// drain Chan() and eventually call Close.
func (c *Conn) Watch(filter SignalFilter) (*Watcher, error) {
	w := &Watcher{
		conn:        c,
		filter:      filter,
		wakePump:    make(chan struct{}, 1),
		out:         make(chan *Notification),
		pumpStopped: make(chan struct{}),
	}
	if err := c.addWatcher(w); err != nil {
		return nil, err
	}
	go w.pump()
	return w, nil
}

// Chan returns the channel notifications are delivered on. It is
// closed once the Watcher is closed; notifications still queued at
// that point are discarded.
func (w *Watcher) Chan() <-chan *Notification {
	return w.out
}

// Close stops the Watcher. It is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.queue.Clear()
	w.mu.Unlock()

	close(w.wakePump)
	<-w.pumpStopped
	w.conn.removeWatcher(w)
}

func (w *Watcher) deliver(m *Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || !w.filter.matches(m) {
		return
	}
	if w.queue.Len() >= maxWatcherQueue {
		if last, ok := w.queue.Peek(-1); ok {
			last.Overflow = true
		}
		return
	}
	w.queue.Add(&Notification{Message: m})
	if w.queue.Len() == 1 {
		select {
		case w.wakePump <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) pop() *Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, _ := w.queue.Pop()
	return n
}

func (w *Watcher) pump() {
	defer close(w.pumpStopped)
	defer close(w.out)
	for {
		n := w.pop()
		if n == nil {
			if _, ok := <-w.wakePump; !ok {
				return
			}
			continue
		}
	deliver:
		for {
			select {
			case w.out <- n:
				break deliver
			case _, ok := <-w.wakePump:
				if !ok {
					return
				}
			}
		}
	}
}

func (c *Conn) addWatcher(w *Watcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.watchers.Add(w)
	return nil
}

func (c *Conn) removeWatcher(w *Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers.Remove(w)
}

func (c *Conn) dispatchSignal(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.watchers {
		w.deliver(m)
	}
}
