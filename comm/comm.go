/*Package comm provides the communication layer between the scan service and
a telescope mount controller.

A mount link is a Link, which holds the transport (TCP or serial) and the
framing bytes.  Usage boils down to:

	link := comm.NewLink("192.168.4.1:11880", false)
	link.TxTerm = ':'   // if the controller frames differently
	err := link.Open()
	...
	resp, err := link.SendRecv([]byte("e1"))

Connections are opened with an exponential backoff; hand controllers and
WiFi mount adapters drop connections that are thrashed.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Send or Recv is called before Open.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Link is a connection to a mount controller over TCP or serial.
// It is not concurrent safe; the mount package serializes access to it.
type Link struct {
	// Addr is the network address (host:port) or serial device path
	Addr string

	// IsSerial selects a serial transport instead of TCP
	IsSerial bool

	// Baud is the serial baud rate, ignored for TCP.  9600 if zero.
	Baud int

	// TxTerm is appended to every transmitted command
	TxTerm byte

	// RxTerm ends every response from the controller
	RxTerm byte

	// Timeout bounds connect, read, and write.  3 seconds if zero.
	Timeout time.Duration

	conn io.ReadWriteCloser
}

// NewLink returns a Link with carriage-return framing in both directions
func NewLink(addr string, isSerial bool) *Link {
	return &Link{
		Addr:     addr,
		IsSerial: isSerial,
		TxTerm:   '\r',
		RxTerm:   '\r'}
}

func (l *Link) timeout() time.Duration {
	if l.Timeout == 0 {
		return 3 * time.Second
	}
	return l.Timeout
}

// Open establishes the connection.  Refused connections are retried with
// an exponential backoff before giving up.
func (l *Link) Open() error {
	wasTimeout := false
	op := func() error {
		err := l.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	// backoff ceases on a timeout so we do not wait forever; the
	// wasTimeout flag distinguishes that case from success
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", l.Addr)
	}
	return err
}

func (l *Link) open() error {
	var err error
	var conn io.ReadWriteCloser
	if l.IsSerial {
		baud := l.Baud
		if baud == 0 {
			baud = 9600
		}
		conn, err = serial.OpenPort(&serial.Config{
			Name:        l.Addr,
			Baud:        baud,
			ReadTimeout: l.timeout()})
	} else {
		conn, err = TCPSetup(l.Addr, l.timeout())
	}
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

// Connected answers if the link has an open connection
func (l *Link) Connected() bool {
	return l.conn != nil
}

// Close the connection, nil-ing the conn variable
func (l *Link) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	if err == nil {
		l.conn = nil
	}
	return err
}

// refreshDeadline pushes the transaction deadline forward; the deadline
// set at connect time would otherwise expire under a long-lived link
func (l *Link) refreshDeadline() {
	if conn, ok := l.conn.(net.Conn); ok {
		conn.SetDeadline(time.Now().Add(l.timeout()))
	}
}

// Send writes a command to the controller, appending the Tx terminator
func (l *Link) Send(b []byte) error {
	if l.conn == nil {
		return ErrNotConnected
	}
	l.refreshDeadline()
	b = append(b, l.TxTerm)
	_, err := l.conn.Write(b)
	return err
}

// Recv reads a response from the controller and strips the Rx terminator
func (l *Link) Recv() ([]byte, error) {
	if l.conn == nil {
		return nil, ErrNotConnected
	}
	l.refreshDeadline()
	buf, err := bufio.NewReader(l.conn).ReadBytes(l.RxTerm)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{l.RxTerm}) {
		idx := bytes.IndexByte(buf, l.RxTerm)
		return buf[:idx], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a command and returns the framed response
func (l *Link) SendRecv(b []byte) ([]byte, error) {
	if l.conn == nil {
		return []byte{}, ErrNotConnected
	}
	err := l.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return l.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
