package gpio

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/labpointer/galvo/comm"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	// ErrBadReply is wrapped when the pin expander answers with something
	// other than OK or ERR
	ErrBadReply = errors.New("unexpected reply from pin expander")
)

// Transport is the request/reply half of a comm.RemoteDevice
type Transport interface {
	SendRecv([]byte) ([]byte, error)
	Close() error
}

// RemoteBank drives the lines of a microcontroller pin expander.
//
// Each write is one line, W<pin>,<0|1>*<crc>, where crc is the XMODEM CRC-16
// of everything before the asterisk as four hex digits.  The expander replies
// OK, or ERR followed by a reason.
type RemoteBank struct {
	t Transport

	mu   sync.Mutex
	pins map[int]struct{}
}

// NewRemoteBank wraps a transport, usually an opened *comm.RemoteDevice
func NewRemoteBank(t Transport) *RemoteBank {
	return &RemoteBank{t: t, pins: make(map[int]struct{})}
}

// DialRemoteBank opens addr (a serial device if serial is true, host:port
// otherwise) and returns a bank on it
func DialRemoteBank(addr string, serial bool, baud int) (*RemoteBank, error) {
	rd := comm.NewRemoteDevice(addr, serial)
	rd.Baud = baud
	if err := rd.Open(); err != nil {
		return nil, &HardwareFault{Pin: -1, Op: "open", Err: err}
	}
	return NewRemoteBank(rd), nil
}

// checksum computes the two-byte CRC value in a concurrent safe way and one line
func checksum(buf []byte) string {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	return fmt.Sprintf("%04X", crcTable.CRC16(crcUint))
}

// Frame builds the request line for a write, without terminator
func Frame(pin int, high bool) []byte {
	body := []byte("W" + strconv.Itoa(pin) + "," + strconv.Itoa(level(high)))
	return append(body, []byte("*"+checksum(body))...)
}

func (b *RemoteBank) write(pin int, high bool) error {
	resp, err := b.t.SendRecv(Frame(pin, high))
	if err != nil {
		return &HardwareFault{Pin: pin, Op: "write", Err: err}
	}
	resp = bytes.TrimSpace(resp)
	switch {
	case bytes.Equal(resp, []byte("OK")):
		return nil
	case bytes.HasPrefix(resp, []byte("ERR")):
		reason := string(bytes.TrimSpace(resp[3:]))
		return &HardwareFault{Pin: pin, Op: "write", Err: errors.New(reason)}
	default:
		return &HardwareFault{Pin: pin, Op: "write", Err: errors.Wrapf(ErrBadReply, "%q", resp)}
	}
}

type remoteLine struct {
	bank *RemoteBank
	pin  int
}

func (r remoteLine) Set(high bool) error {
	return r.bank.write(r.pin, high)
}

// Output claims pin on the expander and drives it low
func (b *RemoteBank) Output(pin int) (Output, error) {
	b.mu.Lock()
	if _, ok := b.pins[pin]; ok {
		b.mu.Unlock()
		return nil, &HardwareFault{Pin: pin, Op: "request", Err: ErrPinInUse}
	}
	b.pins[pin] = struct{}{}
	b.mu.Unlock()
	if err := b.write(pin, false); err != nil {
		b.mu.Lock()
		delete(b.pins, pin)
		b.mu.Unlock()
		return nil, err
	}
	return remoteLine{bank: b, pin: pin}, nil
}

// Close closes the transport
func (b *RemoteBank) Close() error {
	b.mu.Lock()
	b.pins = make(map[int]struct{})
	b.mu.Unlock()
	return b.t.Close()
}
