package dbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/chronostools/dbus/fragments"
	"github.com/chronostools/dbus/transport"
	"github.com/creachadair/mds/mapset"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = ObjectPath("/org/freedesktop/DBus")
	busInterface = "org.freedesktop.DBus"
)

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context, opts ...Option) (*Conn, error) {
	addr, err := transport.SessionAddress()
	if err != nil {
		return nil, err
	}
	return Dial(ctx, addr, opts...)
}

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context, opts ...Option) (*Conn, error) {
	return Dial(ctx, transport.SystemAddress(), opts...)
}

// Dial connects to the bus at address, a DBus address string such as
// "unix:path=/run/dbus/system_bus_socket", authenticates with the
// EXTERNAL mechanism, and performs the Hello call that assigns the
// connection its unique bus name.
func Dial(ctx context.Context, address string, opts ...Option) (*Conn, error) {
	path, err := transport.ParseUnixPath(address)
	if err != nil {
		return nil, err
	}
	t, err := transport.DialUnix(path)
	if err != nil {
		return nil, transportErrorf("dial", err)
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := authenticateExternal(t, cfg.authUID); err != nil {
		t.Close()
		return nil, err
	}

	c := &Conn{
		t:        t,
		order:    fragments.NativeEndian,
		cfg:      cfg,
		calls:    map[uint32]*pendingCall{},
		handlers: map[interfaceMember]HandlerFunc{},
		watchers: mapset.New[*Watcher](),
	}
	go c.readLoop()

	reply, err := c.Call(ctx, busName, busPath, busInterface, "Hello", "", nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("dbus: getting unique connection name: %w", err)
	}
	if len(reply.Body) != 1 {
		c.Close()
		return nil, fmt.Errorf("dbus: Hello reply had %d values, want 1", len(reply.Body))
	}
	name, ok := reply.Body[0].(string)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("dbus: Hello reply value was %T, want string", reply.Body[0])
	}
	c.name = name

	c.Handle("org.freedesktop.DBus.Peer", "Ping", func(context.Context, *Message) ([]any, string, error) {
		return nil, "", nil
	})
	c.Handle("org.freedesktop.DBus.Peer", "GetMachineId", func(context.Context, *Message) ([]any, string, error) {
		id, err := machineID()
		if err != nil {
			return nil, "", err
		}
		return []any{id}, "s", nil
	})

	return c, nil
}

func machineID() (string, error) {
	bs, err := os.ReadFile("/etc/machine-id")
	if errors.Is(err, fs.ErrNotExist) {
		bs, err = os.ReadFile("/var/lib/dbus/machine-id")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bs)), nil
}

// HandlerFunc handles an incoming method call for one interface and
// member, returning the reply body and its signature, or an error to
// send back as an ERROR message.
type HandlerFunc func(ctx context.Context, call *Message) (body []any, signature string, err error)

type interfaceMember struct {
	Interface string
	Member    string
}

type pendingCall struct {
	notify chan struct{}
	reply  *Message
	err    error
}

// Conn is a connection to a DBus bus.
type Conn struct {
	t     transport.Transport
	order fragments.ByteOrder
	cfg   Config
	name  string

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	serial   uint32
	calls    map[uint32]*pendingCall
	watchers mapset.Set[*Watcher]
	handlers map[interfaceMember]HandlerFunc
}

// LocalName returns the connection's unique bus name, assigned by the
// bus during the Hello call.
func (c *Conn) LocalName() string {
	return c.name
}

// Handle registers fn to handle incoming method calls addressed to
// the given interface and member, for any object path. Registering a
// handler for an interface/member pair that's already registered
// replaces the previous handler.
func (c *Conn) Handle(iface, member string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[interfaceMember{iface, member}] = fn
}

// Close shuts down the connection. Pending calls fail with
// net.ErrClosed, and all Watchers are closed.
func (c *Conn) Close() error {
	var (
		pending  map[uint32]*pendingCall
		watchers mapset.Set[*Watcher]
	)
	c.mu.Lock()
	c.closed = true
	pending, c.calls = c.calls, nil
	watchers, c.watchers = c.watchers, nil
	c.mu.Unlock()

	for _, p := range pending {
		p.err = net.ErrClosed
		close(p.notify)
	}
	for w := range watchers {
		w.Close()
	}
	return c.t.Close()
}

func (c *Conn) nextSerial() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Serial 0 is reserved to mean "no reply expected" in ReplySerial
	// position; wrapping back to 0 would let a stale pending call
	// match a future reply, so treat exhaustion as fatal to the
	// connection rather than silently wrapping.
	if c.serial == 0xffffffff {
		return 0, fmt.Errorf("dbus: serial numbers exhausted")
	}
	c.serial++
	return c.serial, nil
}

// Call sends a method call and blocks until a reply is received, ctx
// is done, or the connection is closed. sig and body describe the
// call's arguments; pass "" and nil for a call with no arguments.
func (c *Conn) Call(ctx context.Context, destination string, path ObjectPath, iface, member string, sig string, body []any) (*Message, error) {
	serial, err := c.nextSerial()
	if err != nil {
		return nil, err
	}
	flags := callFlagsFromContext(ctx)
	noReply := flags&FlagNoReplyExpected != 0

	m := &Message{
		Type:        MsgTypeCall,
		Flags:       flags,
		Serial:      serial,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Destination: destination,
		Signature:   sig,
		Body:        body,
	}

	var pending *pendingCall
	if !noReply {
		pending = &pendingCall{notify: make(chan struct{})}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, net.ErrClosed
		}
		c.calls[serial] = pending
		c.mu.Unlock()
	}

	if err := c.writeMessage(m); err != nil {
		if pending != nil {
			c.mu.Lock()
			delete(c.calls, serial)
			c.mu.Unlock()
		}
		return nil, err
	}

	if pending == nil {
		return nil, nil
	}

	select {
	case <-pending.notify:
		if pending.err != nil {
			return nil, pending.err
		}
		return pending.reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.calls, serial)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Conn) writeMessage(m *Message) error {
	bs, err := EncodeMessage(c.order, m, c.cfg.validateSyntax)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.t.Write(bs); err != nil {
		return transportErrorf("write", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		if err := c.dispatchOne(); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// A malformed message or a transport failure is fatal to
			// the connection's ability to make further progress, but
			// there's no good way to surface it to callers blocked on
			// in-flight calls beyond what Close already does, so log
			// and keep trying to read: a transient error on one
			// message shouldn't necessarily kill the whole connection.
			log.Printf("dbus: read error: %v", err)
		}
	}
}

func (c *Conn) dispatchOne() error {
	m, err := DecodeMessage(readAdapter(c.t), c.cfg.validateSyntax)
	if err != nil {
		return err
	}
	if err := m.Valid(); err != nil {
		return fmt.Errorf("received invalid message: %w", err)
	}

	switch m.Type {
	case MsgTypeCall:
		go c.dispatchCall(m)
	case MsgTypeReturn:
		c.dispatchReturn(m)
	case MsgTypeError:
		c.dispatchError(m)
	case MsgTypeSignal:
		c.dispatchSignal(m)
	}
	return nil
}

func (c *Conn) dispatchCall(m *Message) {
	c.mu.Lock()
	handler := c.handlers[interfaceMember{m.Interface, m.Member}]
	c.mu.Unlock()

	serial, err := c.nextSerial()
	if err != nil {
		return
	}
	reply := &Message{
		Serial:      serial,
		Destination: m.Sender,
		ReplySerial: m.Serial,
	}
	if handler == nil {
		reply.Type = MsgTypeError
		reply.ErrName = "org.freedesktop.DBus.Error.UnknownMethod"
		reply.Signature = "s"
		reply.Body = []any{fmt.Sprintf("no handler registered for %s.%s", m.Interface, m.Member)}
		c.writeMessage(reply)
		return
	}

	body, sig, err := handler(context.Background(), m)
	if err != nil {
		reply.Type = MsgTypeError
		reply.ErrName = "org.freedesktop.DBus.Error.Failed"
		reply.Signature = "s"
		reply.Body = []any{err.Error()}
		c.writeMessage(reply)
		return
	}
	if m.Flags&FlagNoReplyExpected != 0 {
		return
	}
	reply.Type = MsgTypeReturn
	reply.Signature = sig
	reply.Body = body
	c.writeMessage(reply)
}

func (c *Conn) dispatchReturn(m *Message) {
	pending := c.popCall(m.ReplySerial)
	if pending == nil {
		return
	}
	pending.reply = m
	close(pending.notify)
}

func (c *Conn) dispatchError(m *Message) {
	pending := c.popCall(m.ReplySerial)
	if pending == nil {
		return
	}
	var detail string
	if len(m.Body) > 0 {
		if s, ok := m.Body[0].(string); ok {
			detail = s
		}
	}
	pending.err = &MethodReplyError{Name: m.ErrName, Detail: detail}
	close(pending.notify)
}

// readAdapter turns an io.Reader into the func(n) ([]byte, error)
// shape DecodeMessage drives its own Decoder with, so the same
// message framing code works whether the byte source is a live
// transport or a bytes.Reader in a test.
func readAdapter(r io.Reader) func(int) ([]byte, error) {
	return func(n int) ([]byte, error) {
		buf := make([]byte, n)
		k, err := io.ReadFull(r, buf)
		if err != nil {
			return nil, err
		}
		return buf[:k], nil
	}
}

func (c *Conn) popCall(serial uint32) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.calls[serial]
	delete(c.calls, serial)
	return p
}
