/*Package comm provides a line-oriented connection to lab hardware.

Most usages of this package will boil down to:
	1.  create a RemoteDevice with NewRemoteDevice, marking it serial or TCP
	2.  Open it.  Opening retries with an exponential backoff for a few seconds
	3.  Send commands and ReadLine responses; a background pump splits the
		inbound byte stream into lines so reads can time out without losing data
	4.  Flush before a command whose response you want to read in isolation

Both serial ports (via tarm/serial) and TCP sockets (e.g. a digi portserver
or the chambersim device shell) are supported.
*/
package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	terminator = byte('\n')

	// DefaultBaud is the baud rate of the chamber controller console
	DefaultBaud = 115200
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or ReadLine is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTimeout is generated when no line arrives before the read timeout
	ErrTimeout = errors.New("timeout waiting for a line from remote")
)

/*RemoteDevice has an address and a line-oriented connection to it.

If IsSerial is true, Addr is a serial device path (/dev/ttyUSB0, COM3) and
Baud and ReadTimeout configure the port.  Otherwise Addr is host:port.

Send is safe for concurrent use; reads are intended for a single consumer.
*/
type RemoteDevice struct {
	Addr        string
	IsSerial    bool
	Baud        int
	ReadTimeout time.Duration

	// Prompt, if set, is emitted as a line as soon as it is seen even though
	// the remote does not terminate it
	Prompt string

	Conn io.ReadWriteCloser

	mu    sync.Mutex
	lines *LineReader
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{
		Addr:        addr,
		IsSerial:    serial,
		Baud:        DefaultBaud,
		ReadTimeout: 2 * time.Second}
}

// Attach wraps an already open connection.  eofIsTimeout should be true for
// serial-like connections that report read timeouts as io.EOF.
func Attach(conn io.ReadWriteCloser, eofIsTimeout bool, prompt string) *RemoteDevice {
	rd := &RemoteDevice{Addr: "attached", IsSerial: eofIsTimeout, Prompt: prompt}
	rd.attach(conn)
	return rd
}

// SerialConf yields a pointer to a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	baud := rd.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        rd.Addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: rd.ReadTimeout}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// the board resets when the USB-UART is enumerated, so the first
	// attempt or two commonly fail; back off instead of thrashing it
	err := backoff.Retry(rd.open, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("open %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.attach(conn)
	return nil
}

func (rd *RemoteDevice) attach(conn io.ReadWriteCloser) {
	rd.Conn = conn
	rd.lines = NewLineReader(conn, rd.IsSerial, rd.Prompt)
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	rd.lines.markClosed()
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return terminator
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.TxTerminator())
	_, err := rd.Conn.Write(msg)
	return err
}

// ReadLine returns the next line from the remote with terminators stripped.
// A timeout <= 0 waits until ctx is done.
func (rd *RemoteDevice) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	if rd.lines == nil {
		return "", ErrNotConnected
	}
	return rd.lines.ReadLine(ctx, timeout)
}

// Flush discards any lines received but not yet read, the equivalent of
// resetting the input buffer of a serial port
func (rd *RemoteDevice) Flush() int {
	if rd.lines == nil {
		return 0
	}
	return rd.lines.Drain()
}

// TCPSetup opens a new TCP connection with a timeout on connect.
// No read deadline is set; ReadLine handles timeouts.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
