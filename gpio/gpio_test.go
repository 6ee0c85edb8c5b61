package gpio

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/labpointer/galvo/comm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimBankRecordsWrites(t *testing.T) {
	b := NewSimBank()
	out, err := b.Output(19)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, out.Set(true))
		require.NoError(t, out.Set(false))
	}
	assert.Equal(t, 3, b.Rising(19))
	assert.Equal(t, []bool{true, false, true, false, true, false}, b.WritesTo(19))
	high, ok := b.Level(19)
	assert.True(t, ok)
	assert.False(t, high)

	_, ok = b.Level(20)
	assert.False(t, ok)
}

func TestSimBankRejectsDoubleRequest(t *testing.T) {
	b := NewSimBank()
	_, err := b.Output(4)
	require.NoError(t, err)
	_, err = b.Output(4)
	var hf *HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, "request", hf.Op)
	assert.True(t, errors.Is(err, ErrPinInUse))
}

func TestSimBankFaultInjection(t *testing.T) {
	b := NewSimBank()
	out, err := b.Output(12)
	require.NoError(t, err)

	boom := errors.New("line busy")
	b.Fail(12, boom)
	err = out.Set(true)
	var hf *HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, 12, hf.Pin)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, b.WritesTo(12))

	b.Fail(12, nil)
	assert.NoError(t, out.Set(true))
}

func TestFrameChecksum(t *testing.T) {
	f := string(Frame(17, true))
	require.True(t, strings.HasPrefix(f, "W17,1*"))
	assert.Len(t, f, len("W17,1*")+4)
	assert.Equal(t, checksum([]byte("W17,1")), f[len("W17,1*"):])
	assert.NotEqual(t, string(Frame(17, true)), string(Frame(17, false)))
}

// expander answers every well formed frame with OK, and frames for pin 99
// with an error
func expander(t *testing.T, conn net.Conn, seen chan<- string) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			close(seen)
			return
		}
		line = strings.TrimSuffix(line, "\n")
		seen <- line
		parts := strings.SplitN(line, "*", 2)
		switch {
		case len(parts) != 2 || checksum([]byte(parts[0])) != parts[1]:
			conn.Write([]byte("ERR crc\n"))
		case strings.HasPrefix(parts[0], "W99,"):
			conn.Write([]byte("ERR no such pin\n"))
		default:
			conn.Write([]byte("OK\r\n"))
		}
	}
}

func TestRemoteBank(t *testing.T) {
	client, server := net.Pipe()
	seen := make(chan string, 16)
	go expander(t, server, seen)

	rd := comm.NewRemoteDevice("pipe", false)
	rd.Attach(client)
	b := NewRemoteBank(rd)

	out, err := b.Output(13)
	require.NoError(t, err)
	assert.Equal(t, string(Frame(13, false)), <-seen)

	require.NoError(t, out.Set(true))
	assert.Equal(t, string(Frame(13, true)), <-seen)

	_, err = b.Output(99)
	var hf *HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, "no such pin", hf.Err.Error())
	<-seen

	_, err = b.Output(13)
	assert.True(t, errors.Is(err, ErrPinInUse))

	require.NoError(t, b.Close())
	server.Close()
}
