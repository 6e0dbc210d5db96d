package rem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Header is the first line of every result file
	Header = "time;x;y;z;ssid;rssi;mac;channel"

	separator      = ";"
	fileNameLayout = "20060102_150405"
	fileNameSuffix = "_rembuilder.out"
)

// ErrInvalidLine is returned when a result file line cannot be decoded
var ErrInvalidLine = errors.New("invalid result line")

// FileName returns the result file name for a mission started at t
func FileName(t time.Time) string {
	return t.Format(fileNameLayout) + fileNameSuffix
}

// WithObfuscatedMAC hides the device specific half of every MAC address written
func WithObfuscatedMAC(enabled bool) func(*Writer) {
	return func(w *Writer) {
		w.obfuscateMAC = enabled
	}
}

// Writer writes measurements in the semicolon delimited result format.
// The header line is written before the first measurement.
type Writer struct {
	w             *bufio.Writer
	headerWritten bool
	obfuscateMAC  bool
}

// NewWriter creates a new Writer
func NewWriter(w io.Writer, options ...func(*Writer)) *Writer {
	wr := Writer{w: bufio.NewWriter(w)}

	for _, option := range options {
		option(&wr)
	}

	return &wr
}

// Write appends a single measurement line
func (w *Writer) Write(m Measurement) error {
	if err := w.writeHeader(); err != nil {
		return err
	}

	mac := m.MAC
	if w.obfuscateMAC {
		mac = m.ObfuscatedMAC()
	}

	fields := []string{
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		formatFloat(m.X),
		formatFloat(m.Y),
		formatFloat(m.Z),
		m.SSID,
		strconv.Itoa(m.RSSI),
		mac,
		strconv.Itoa(m.Channel),
	}

	if _, err := w.w.WriteString(strings.Join(fields, separator) + "\n"); err != nil {
		return fmt.Errorf("writing measurement: %w", err)
	}
	return nil
}

// Flush writes the header, if nothing was written yet, and any buffered data
// to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) writeHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := w.w.WriteString(Header + "\n"); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteFile writes all measurements into a new result file inside dir and
// returns the full path of the file.
func WriteFile(dir string, startTime time.Time, measurements []Measurement, options ...func(*Writer)) (path string, err error) {
	path = filepath.Join(dir, FileName(startTime))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating result file: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing result file: %w", cErr)
		}
	}()

	w := NewWriter(f, options...)
	for _, m := range measurements {
		if err = w.Write(m); err != nil {
			return "", err
		}
	}
	if err = w.Flush(); err != nil {
		return "", fmt.Errorf("flushing result file: %w", err)
	}

	return path, nil
}

// Reader decodes measurements from the result format. The header line is
// optional and skipped when present.
type Reader struct {
	scanner *bufio.Scanner
	current Measurement
	lineNum int
	err     error
}

// NewReader creates a new Reader
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next advances to the next measurement. It returns false at the end of the
// input or on the first error, which is then available from Err.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	for r.scanner.Scan() {
		r.lineNum++

		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" || (r.lineNum == 1 && line == Header) {
			continue
		}

		m, err := ParseLine(line)
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
			return false
		}

		r.current = m
		return true
	}

	r.err = r.scanner.Err()
	return false
}

// Measurement returns the measurement decoded by the last call to Next
func (r *Reader) Measurement() Measurement {
	return r.current
}

// Err returns the first error encountered by the reader
func (r *Reader) Err() error {
	return r.err
}

// ReadAll decodes every measurement from r
func ReadAll(r io.Reader) ([]Measurement, error) {
	var measurements []Measurement

	rd := NewReader(r)
	for rd.Next() {
		measurements = append(measurements, rd.Measurement())
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}

	return measurements, nil
}

// ReadFile decodes every measurement from the result file at path
func ReadFile(path string) ([]Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()

	return ReadAll(f)
}

// ParseLine decodes a single result line. The SSID is the only field that may
// contain the separator, so the four leading fields are split from the left
// and the three trailing ones from the right.
func ParseLine(line string) (Measurement, error) {
	head := strings.SplitN(line, separator, 5)
	if len(head) != 5 {
		return Measurement{}, fmt.Errorf("%w: expected 8 fields", ErrInvalidLine)
	}

	tail := head[4]
	var trailing [3]string
	for i := len(trailing) - 1; i >= 0; i-- {
		idx := strings.LastIndex(tail, separator)
		if idx < 0 {
			return Measurement{}, fmt.Errorf("%w: expected 8 fields", ErrInvalidLine)
		}
		trailing[i] = tail[idx+1:]
		tail = tail[:idx]
	}

	var m Measurement
	var err error

	if m.Timestamp, err = time.Parse(time.RFC3339Nano, head[0]); err != nil {
		return Measurement{}, fmt.Errorf("%w: time: %w", ErrInvalidLine, err)
	}
	if m.X, err = strconv.ParseFloat(head[1], 64); err != nil {
		return Measurement{}, fmt.Errorf("%w: x: %w", ErrInvalidLine, err)
	}
	if m.Y, err = strconv.ParseFloat(head[2], 64); err != nil {
		return Measurement{}, fmt.Errorf("%w: y: %w", ErrInvalidLine, err)
	}
	if m.Z, err = strconv.ParseFloat(head[3], 64); err != nil {
		return Measurement{}, fmt.Errorf("%w: z: %w", ErrInvalidLine, err)
	}

	m.SSID = tail

	if m.RSSI, err = strconv.Atoi(trailing[0]); err != nil {
		return Measurement{}, fmt.Errorf("%w: rssi: %w", ErrInvalidLine, err)
	}
	m.MAC = trailing[1]
	if m.Channel, err = strconv.Atoi(trailing[2]); err != nil {
		return Measurement{}, fmt.Errorf("%w: channel: %w", ErrInvalidLine, err)
	}

	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
