// Package ipc implements the relay's length-prefixed wire framing.
//
// Every frame starts with a 10-byte ASCII header: one role digit followed by
// a 9-character decimal payload length. Inbound frames end after the payload.
// Outbound frames carry a trailing CRLF that is not counted in the length.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Frame size constants.
const (
	// HeaderSize is the size of the ASCII header in bytes.
	HeaderSize = 10
	// LengthFieldSize is the width of the decimal length field.
	LengthFieldSize = HeaderSize - 1
	// MaxPayloadSize is the largest length representable in the length field.
	MaxPayloadSize = 999_999_999
	// MaxCode is the largest role digit.
	MaxCode = 9
)

// LineTerminator follows the payload of every outbound frame.
const LineTerminator = "\r\n"

// TerminalCode is the role digit of the end-of-response frame.
const TerminalCode = 9

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated header or body.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorMalformed indicates a header that is not digit + decimal length.
	FrameErrorMalformed
	// FrameErrorTooLarge indicates a payload that does not fit the length field.
	FrameErrorTooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorMalformed:
		return "malformed"
	case FrameErrorTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// FrameError represents a framing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error must terminate the session.
// There is no resynchronization on this protocol, so every kind is fatal.
func (e *FrameError) IsFatal() bool {
	return true
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Frame is one header-plus-payload unit.
type Frame struct {
	// Code is the role digit (inbound role or outbound type).
	Code uint8
	// Payload holds exactly the declared number of bytes.
	Payload []byte
}

// FrameDecoder decodes inbound frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: the peer closed the stream on a frame boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended mid-header or mid-body
//   - *FrameError with Kind=FrameErrorMalformed: header is not digit + length
func (d *FrameDecoder) ReadFrame() (*Frame, error) {
	var header [HeaderSize]byte
	_, err := io.ReadFull(d.reader, header[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read header",
			Err:  err,
		}
	}

	code, length, err := ParseHeader(header[:])
	if err != nil {
		return nil, err
	}

	// io.ReadFull retries short reads until length bytes arrive or the
	// stream ends.
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("failed to read %d byte payload", length),
			Err:  err,
		}
	}

	return &Frame{Code: code, Payload: payload}, nil
}

// ParseHeader parses a 10-byte header into role digit and payload length.
// The length field may be padded with spaces on either side or with
// leading zeros.
func ParseHeader(header []byte) (uint8, int, error) {
	if len(header) != HeaderSize {
		return 0, 0, &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  fmt.Sprintf("header must be %d bytes, got %d", HeaderSize, len(header)),
		}
	}

	if header[0] < '0' || header[0] > '9' {
		return 0, 0, &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  fmt.Sprintf("invalid role digit %q", header[0]),
		}
	}
	code := header[0] - '0'

	field := strings.TrimSpace(string(header[1:]))
	if field == "" {
		return 0, 0, &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  "empty length field",
		}
	}
	length, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, 0, &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  fmt.Sprintf("invalid length field %q", string(header[1:])),
			Err:  err,
		}
	}
	if length > MaxPayloadSize {
		return 0, 0, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", length, MaxPayloadSize),
		}
	}

	return code, int(length), nil
}

// FormatHeader renders the header for a frame: the role digit followed by
// the length right-justified in 9 characters.
func FormatHeader(code uint8, length int) (string, error) {
	if code > MaxCode {
		return "", &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  fmt.Sprintf("role code %d is not a single digit", code),
		}
	}
	if length < 0 || length > MaxPayloadSize {
		return "", &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", length, MaxPayloadSize),
		}
	}
	return fmt.Sprintf("%d%*d", code, LengthFieldSize, length), nil
}

// EncodeFrame encodes a frame in inbound shape (header + payload, no
// terminator). Clients and tests use it to produce decoder input.
func EncodeFrame(code uint8, payload []byte) ([]byte, error) {
	header, err := FormatHeader(code, len(payload))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return buf, nil
}

// FrameEncoder writes outbound frames to a stream.
// Safe for concurrent use: each frame is one Write call under a mutex.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{writer: w}
}

// WriteFrame writes header, payload and CRLF as a single buffer.
// Nothing is written if the header cannot be formed.
func (e *FrameEncoder) WriteFrame(code uint8, payload []byte) error {
	header, err := FormatHeader(code, len(payload))
	if err != nil {
		return err
	}

	buf := make([]byte, 0, HeaderSize+len(payload)+len(LineTerminator))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, LineTerminator...)

	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.writer.Write(buf)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}
	return nil
}

// WriteTerminal writes the end-of-response frame (code 9, empty payload).
func (e *FrameEncoder) WriteTerminal() error {
	return e.WriteFrame(TerminalCode, nil)
}
