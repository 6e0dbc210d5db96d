// Package serialconsole reads the on-board console straight from a USB-UART
// adapter wired to the scanner module, bypassing the radio link.
package serialconsole

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 200 * time.Millisecond

	readBufferSize = 1024
)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Reader) {
	return func(r *Reader) {
		r.logger = logger.With(slog.String("component", "serialconsole"))
	}
}

// WithBaudRate sets the port speed
func WithBaudRate(baud int) func(*Reader) {
	return func(r *Reader) {
		r.baudRate = baud
	}
}

// WithReadTimeout sets how long a single read blocks, which bounds how late
// cancellation is noticed
func WithReadTimeout(d time.Duration) func(*Reader) {
	return func(r *Reader) {
		r.readTimeout = d
	}
}

// Reader copies console bytes from a serial port into a sink
type Reader struct {
	portName    string
	baudRate    int
	readTimeout time.Duration
	logger      *slog.Logger

	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// New creates a new Reader for the named port, e.g. /dev/ttyUSB0
func New(portName string, options ...func(*Reader)) *Reader {
	r := Reader{
		portName:    portName,
		baudRate:    DefaultBaudRate,
		readTimeout: DefaultReadTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		open:        serial.Open,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run opens the port and copies everything it reads into w until ctx is
// cancelled. Cancellation is not an error.
func (r *Reader) Run(ctx context.Context, w io.Writer) (err error) {
	mode := &serial.Mode{
		BaudRate: r.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := r.open(r.portName, mode)
	if err != nil {
		return fmt.Errorf("opening %s: %w", r.portName, err)
	}
	defer func() {
		if cErr := port.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", r.portName, cErr)
		}
	}()

	if err = port.SetReadTimeout(r.readTimeout); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}

	r.logger.Info("reading console", slog.String("port", r.portName), slog.Int("baud", r.baudRate))

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, rErr := port.Read(buf)
		if n > 0 {
			if _, wErr := w.Write(buf[:n]); wErr != nil {
				return fmt.Errorf("forwarding console output: %w", wErr)
			}
		}

		switch {
		case rErr == nil:
		case errors.Is(rErr, io.EOF):
			return nil
		default:
			return fmt.Errorf("reading %s: %w", r.portName, rErr)
		}
	}
}

// Ports lists the serial ports available on this machine
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
