// Package transport provides the raw byte-stream connection a DBus
// client authenticates and exchanges messages over. It knows nothing
// about the DBus wire format; it only connects sockets, resolves bus
// addresses, and carries SCM_RIGHTS ancillary data alongside the byte
// stream.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// Transport is a raw DBus connection: an ordered byte stream, plus
// the ability to carry Unix file descriptors as out-of-band data
// alongside it.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that arrived as ancillary
	// data attached to previously read bytes.
	GetFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Write, but additionally sends fds as
	// ancillary data alongside bs.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
}

// SessionAddress resolves the current user's session bus address from
// the environment, following the same fallback the reference
// implementation uses: DBUS_SESSION_BUS_ADDRESS if set, otherwise
// unix:path=$XDG_RUNTIME_DIR/bus.
func SessionAddress() (string, error) {
	if addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix:path=" + dir + "/bus", nil
	}
	return "", errors.New("transport: session bus address not available: neither DBUS_SESSION_BUS_ADDRESS nor XDG_RUNTIME_DIR is set")
}

// SystemAddress returns the well-known system bus socket path.
func SystemAddress() string {
	return "unix:path=/run/dbus/system_bus_socket"
}

// ParseUnixPath extracts the filesystem path from a "unix:path=..."
// style DBus address. A DBus address can list several
// semicolon-separated alternatives; ParseUnixPath returns the first
// one with a unix:path= transport.
func ParseUnixPath(addr string) (string, error) {
	for _, part := range strings.Split(addr, ";") {
		if path, ok := strings.CutPrefix(part, "unix:path="); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("transport: no usable unix:path= transport in address %q", addr)
}

// DialUnix connects to the bus listening on the Unix domain socket at
// path. The caller is responsible for driving authentication before
// treating the transport as ready for message traffic.
func DialUnix(path string) (Transport, error) {
	addr := &net.UnixAddr{Net: "unix", Name: path}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	ret := &unixTransport{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
	ret.buf = bufio.NewReader(readerFunc(ret.readToBuf))
	return ret, nil
}

// unixTransport is a Transport running over a Unix domain socket.
type unixTransport struct {
	conn *net.UnixConn
	oob  [512]byte
	buf  *bufio.Reader
	fds  *queue.Queue[*os.File]
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	return u.buf.Read(bs)
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) Close() error {
	u.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	u.fds.Clear()
	return u.conn.Close()
}

func (u *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return u.Write(bs)
	}
	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		return n, err
	}
	if oobn != len(scm) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (u *unixTransport) GetFiles(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := u.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("transport: requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// readToBuf is the underlying reader behind u.buf: it reads a packet
// off the socket, pulling out any SCM_RIGHTS ancillary data into
// u.fds before returning the payload bytes to the caller.
func (u *unixTransport) readToBuf(bs []byte) (int, error) {
	n, oobn, flags, _, err := u.conn.ReadMsgUnix(bs, u.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		return 0, errors.New("transport: control message truncated")
	}
	if oobn > 0 {
		if oobErr := u.parseFDs(u.oob[:oobn]); oobErr != nil {
			return 0, oobErr
		}
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (u *unixTransport) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Keep parsing past individual errors so that every fd actually
	// attached to the message gets extracted and can be closed; bailing
	// early would leak any fds parsed from messages after the bad one.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on dbus socket", fd))
				continue
			}
			u.fds.Add(f)
		}
	}
	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	return nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(bs []byte) (int, error) { return f(bs) }
