package main

import (
	"bufio"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Conn is a connection to a client or peer server. Grounded directly on
// the teacher's net.go Conn, extended with in-place STARTTLS upgrade and
// a caller-adjustable max line length (512 for clients, 65536 once a
// connection registers as a server link; spec §4.A).
type Conn struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	ioWait time.Duration
	IP     net.IP

	maxLineLen int
	tlsState   tls.ConnectionState
}

// NewConn initializes a Conn, same shape as the teacher's NewConn.
func NewConn(conn net.Conn, ioWait time.Duration) (Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", conn.RemoteAddr().String())
	if err != nil {
		return Conn{}, errors.Wrap(err, "unable to resolve TCP address")
	}

	c := Conn{
		conn:       conn,
		rw:         bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait:     ioWait,
		IP:         tcpAddr.IP,
		maxLineLen: MaxLineLength,
	}
	if tc, ok := conn.(*tls.Conn); ok {
		c.tlsState = tc.ConnectionState()
	}
	return c, nil
}

func (c Conn) Close() error { return c.conn.Close() }

func (c Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) SetMaxLineLength(n int) { c.maxLineLen = n }

// IsTLS reports whether the underlying connection is TLS (teacher's
// local_client.go isTLS check, generalized to the Conn level).
func (c Conn) IsTLS() bool { return c.tlsState.Version != 0 }

func (c Conn) CertificateFingerprint() string {
	if len(c.tlsState.PeerCertificates) == 0 {
		return ""
	}
	return certfpOf(c.tlsState.PeerCertificates[0].Raw)
}

// Read reads one line from the connection, including its line ending.
// Deadline-bounded exactly like the teacher's net.go Read.
func (c Conn) Read() (string, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return "", errors.Wrap(err, "unable to set deadline")
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		return "", err
	}

	if len(line) > c.maxLineLen {
		return line, ErrInputTooLong
	}

	return line, nil
}

// Write writes a raw string to the connection.
func (c Conn) Write(s string) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return errors.Wrap(err, "unable to set deadline")
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return err
	}
	if sz != len(s) {
		return errors.New("short write")
	}

	return errors.Wrap(c.rw.Flush(), "flush error")
}

// WriteMessage encodes and writes an IRC message.
func (c Conn) WriteMessage(m Message) error {
	buf, err := m.Encode(c.maxLineLen)
	if err != nil && errors.Cause(err) != ErrTruncated {
		return errors.Wrap(err, "unable to encode message")
	}
	return c.Write(buf)
}

// UpgradeTLS performs an in-place STARTTLS upgrade: the plaintext
// net.Conn is wrapped in a *tls.Conn and the buffered reader/writer are
// rebuilt on top of it. Must happen before any further protocol bytes are
// read or written (spec §4.F step 5).
func (c *Conn) UpgradeTLS(cfg *tls.Config) error {
	tc := tls.Server(c.conn, cfg)
	if err := tc.Handshake(); err != nil {
		return errors.Wrap(err, "TLS handshake failed")
	}
	c.conn = tc
	c.rw = bufio.NewReadWriter(bufio.NewReader(tc), bufio.NewWriter(tc))
	c.tlsState = tc.ConnectionState()
	return nil
}

func fixLineEnding(line string) (string, error) {
	if strings.HasSuffix(line, "\r\n") {
		return line, nil
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1] + "\r\n", nil
	}
	return "", errors.New("no line ending")
}
