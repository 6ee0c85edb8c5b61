/*Package comm provides a line-oriented transport to remote hardware over a
serial port or a TCP socket.

Most usages of this package will boil down to:
	1.  create a RemoteDevice with NewRemoteDevice
	2.  set the terminators if the remote does not use newlines
	3.  Open, then SendRecv commands; the device is concurrent safe and keeps
		each send paired with its reply

	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true)
	rd.Baud = 115200
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("W17,1"))
*/
package comm

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// DefaultBaud is the baud rate used when Baud is zero
	DefaultBaud = 115200

	// DefaultTimeout bounds connects, reads, and writes
	DefaultTimeout = 3 * time.Second
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// RemoteDevice has an address and a connection to it.
// Tx and Rx are the transmit and receipt terminators.
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int
	Timeout  time.Duration
	Tx, Rx   byte

	mu   sync.Mutex
	conn io.ReadWriteCloser
	rd   *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance with newline terminators
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  DefaultTimeout,
		Tx:       '\n',
		Rx:       '\n'}
}

// Attach uses an existing connection instead of dialing Addr
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.conn = conn
	rd.rd = bufio.NewReader(conn)
}

// Open the connection.  Refused connections are retried with an exponential
// backoff for a few seconds; any other error is returned immediately.
func (rd *RemoteDevice) Open() error {
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "refused") {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", rd.Addr)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	timeout := rd.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if rd.IsSerial {
		baud := rd.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		conn, err = serial.OpenPort(&serial.Config{Name: rd.Addr, Baud: baud, ReadTimeout: timeout})
	} else {
		conn, err = net.DialTimeout("tcp", rd.Addr, timeout)
	}
	if err != nil {
		return err
	}
	rd.Attach(conn)
	return nil
}

// Close the connection
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.conn == nil {
		return nil
	}
	err := rd.conn.Close()
	rd.conn = nil
	rd.rd = nil
	return err
}

func (rd *RemoteDevice) deadline() {
	if c, ok := rd.conn.(net.Conn); ok {
		timeout := rd.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		c.SetDeadline(time.Now().Add(timeout))
	}
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.Tx)
	_, err := rd.conn.Write(buf)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := rd.rd.ReadBytes(rd.Rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{rd.Rx})
	// tolerate CRLF from remotes configured for \n
	return bytes.TrimSuffix(buf, []byte{'\r'}), nil
}

// Send writes data to the remote with the Tx terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv receives one line from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// No other send can be interleaved between the two.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}
