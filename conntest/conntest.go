// Package conntest provides an in-process fake bus for exercising
// [github.com/chronostools/dbus.Conn] without a real dbus-daemon.
package conntest

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronostools/dbus"
	"github.com/chronostools/dbus/fragments"
)

// Bus is a minimal fake DBus server: it speaks just enough of the
// SASL EXTERNAL handshake and message framing to authenticate a real
// [dbus.Conn] and drive method calls and signals against it.
type Bus struct {
	t    *testing.T
	ln   *net.UnixListener
	sock string

	mu      sync.Mutex
	clients []*serverConn
	nextID  int
	handler HandlerFunc
}

// HandlerFunc answers a method call arriving at the fake bus itself
// (as opposed to one routed peer-to-peer between two Dial'd
// connections). Returning a non-nil err sends back an ERROR reply
// with that text as its sole string argument.
type HandlerFunc func(m *dbus.Message) (body []any, sig string, err error)

// New starts a fake bus listening on a unix socket under t.TempDir.
// The bus is closed automatically when the test finishes.
func New(t *testing.T) *Bus {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "bus.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Net: "unix", Name: sock})
	if err != nil {
		t.Fatalf("conntest: listening on fake bus socket: %v", err)
	}
	b := &Bus{t: t, ln: ln, sock: sock}
	go b.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return b
}

// Addr returns the "unix:path=..." address Dial expects.
func (b *Bus) Addr() string {
	return "unix:path=" + b.sock
}

// Handle installs fn to answer every method call that isn't Hello and
// isn't addressed to another connected client's unique name, replacing
// any previously installed handler.
func (b *Bus) Handle(fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Dial connects a real [dbus.Conn] to the fake bus.
func (b *Bus) Dial(ctx context.Context, opts ...dbus.Option) *dbus.Conn {
	b.t.Helper()
	c, err := dbus.Dial(ctx, b.Addr(), opts...)
	if err != nil {
		b.t.Fatalf("conntest: dialing fake bus: %v", err)
	}
	b.t.Cleanup(func() { c.Close() })
	return c
}

// Broadcast sends a SIGNAL message to every currently connected
// client, as if it had been emitted by the bus itself.
func (b *Bus) Broadcast(path dbus.ObjectPath, iface, member, sig string, body []any) error {
	m := &dbus.Message{
		Type:      dbus.MsgTypeSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
		Sender:    "org.freedesktop.DBus",
		Signature: sig,
		Body:      body,
	}
	b.mu.Lock()
	b.nextID++
	m.Serial = uint32(b.nextID) + 1<<20
	clients := append([]*serverConn(nil), b.clients...)
	b.mu.Unlock()
	for _, c := range clients {
		if err := c.send(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) acceptLoop() {
	for {
		conn, err := b.ln.AcceptUnix()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.nextID++
		id := b.nextID
		b.mu.Unlock()

		sc := &serverConn{bus: b, conn: conn, uniqueName: fmt.Sprintf(":1.%d", id)}
		b.mu.Lock()
		b.clients = append(b.clients, sc)
		b.mu.Unlock()

		go sc.serve()
	}
}

func (b *Bus) removeClient(sc *serverConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.clients {
		if c == sc {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			return
		}
	}
}

// serverConn is the bus's side of one client connection.
type serverConn struct {
	bus        *Bus
	conn       *net.UnixConn
	uniqueName string

	writeMu sync.Mutex
}

func (sc *serverConn) serve() {
	defer sc.bus.removeClient(sc)
	defer sc.conn.Close()

	if err := sc.authenticate(); err != nil {
		return
	}

	for {
		m, err := dbus.DecodeMessage(sc.readAdapter())
		if err != nil {
			return
		}
		sc.bus.mu.Lock()
		var peer *serverConn
		for _, c := range sc.bus.clients {
			if m.Destination != "" && c.uniqueName == m.Destination {
				peer = c
			}
		}
		sc.bus.mu.Unlock()
		if peer != nil {
			m.Sender = sc.uniqueName
			peer.send(m)
			continue
		}
		if m.Type != dbus.MsgTypeCall {
			continue
		}
		sc.handleCall(m)
	}
}

// authenticate plays the server side of the SASL EXTERNAL exchange:
// read the leading NUL, read one AUTH EXTERNAL line, answer OK, read
// the BEGIN line that follows.
func (sc *serverConn) authenticate() error {
	var nul [1]byte
	if _, err := io.ReadFull(sc.conn, nul[:]); err != nil {
		return err
	}
	line, err := readLine(sc.conn)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "AUTH EXTERNAL ") {
		return fmt.Errorf("conntest: unexpected auth line %q", line)
	}
	if _, err := sc.conn.Write([]byte("OK 0123456789abcdef0123456789abcdef\r\n")); err != nil {
		return err
	}
	begin, err := readLine(sc.conn)
	if err != nil {
		return err
	}
	if begin != "BEGIN" {
		return fmt.Errorf("conntest: expected BEGIN, got %q", begin)
	}
	return nil
}

func readLine(r io.Reader) (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
	}
	return strings.TrimRight(string(line), "\r"), nil
}

func (sc *serverConn) readAdapter() func(int) ([]byte, error) {
	return func(n int) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(sc.conn, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

func (sc *serverConn) send(m *dbus.Message) error {
	bs, err := dbus.EncodeMessage(fragments.NativeEndian, m)
	if err != nil {
		return err
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_, err = sc.conn.Write(bs)
	return err
}

func (sc *serverConn) handleCall(m *dbus.Message) {
	reply := &dbus.Message{
		Destination: sc.uniqueName,
		ReplySerial: m.Serial,
	}

	if m.Interface == "org.freedesktop.DBus" && m.Member == "Hello" {
		reply.Type = dbus.MsgTypeReturn
		reply.Signature = "s"
		reply.Body = []any{sc.uniqueName}
		sc.replyWithSerial(m, reply)
		return
	}

	sc.bus.mu.Lock()
	handler := sc.bus.handler
	sc.bus.mu.Unlock()

	if handler == nil {
		reply.Type = dbus.MsgTypeError
		reply.ErrName = "org.freedesktop.DBus.Error.UnknownMethod"
		reply.Signature = "s"
		reply.Body = []any{fmt.Sprintf("conntest: no handler for %s.%s", m.Interface, m.Member)}
		sc.replyWithSerial(m, reply)
		return
	}

	body, sig, err := handler(m)
	if err != nil {
		reply.Type = dbus.MsgTypeError
		reply.ErrName = "org.freedesktop.DBus.Error.Failed"
		reply.Signature = "s"
		reply.Body = []any{err.Error()}
		sc.replyWithSerial(m, reply)
		return
	}
	if !m.WantReply() {
		return
	}
	reply.Type = dbus.MsgTypeReturn
	reply.Signature = sig
	reply.Body = body
	sc.replyWithSerial(m, reply)
}

// replyWithSerial stamps a serial onto reply before sending it. The
// fake bus doesn't need the overflow-avoidance care Conn.nextSerial
// takes, since a test process sends only a handful of messages.
func (sc *serverConn) replyWithSerial(orig, reply *dbus.Message) {
	sc.bus.mu.Lock()
	sc.bus.nextID++
	reply.Serial = uint32(sc.bus.nextID) + 1<<20
	sc.bus.mu.Unlock()
	sc.send(reply)
}

// WaitForNoClients blocks until every dialed connection has
// disconnected, or d elapses. It exists for tests that want to assert
// Conn.Close actually closes the transport.
func (b *Bus) WaitForNoClients(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		n := len(b.clients)
		b.mu.Unlock()
		if n == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
