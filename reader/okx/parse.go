package okx

import (
	"errors"
	"fmt"
	"io"
	"net"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"pythagoras/models"
)

var (
	ErrBinaryFrame = errors.New("frame is not text")
	ErrInvalidUTF8 = errors.New("frame text is not valid UTF-8")
)

// NonTextError reports a frame that is not valid text.
type NonTextError struct {
	FrameType int
	Err       error
}

func (e *NonTextError) Error() string {
	return fmt.Sprintf("non-text frame (type %d): %v", e.FrameType, e.Err)
}

func (e *NonTextError) Unwrap() error { return e.Err }

// DeserializationError reports text that matches no known push schema. Text
// is the frame exactly as received.
type DeserializationError struct {
	Text string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("couldn't deserialize data into any known schema: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// Parse classifies a raw frame into a typed push message.
func Parse(frame Frame) (models.PushMessage, error) {
	if frame.Type != websocket.TextMessage {
		return nil, &NonTextError{FrameType: frame.Type, Err: ErrBinaryFrame}
	}
	if !utf8.Valid(frame.Data) {
		return nil, &NonTextError{FrameType: frame.Type, Err: ErrInvalidUTF8}
	}
	msg, err := models.DecodePush(frame.Data)
	if err != nil {
		return nil, &DeserializationError{Text: string(frame.Data), Err: err}
	}
	return msg, nil
}

// Severity says whether a read error ends the session.
type Severity int

const (
	SeverityRecoverable Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "recoverable"
}

// ClassifyReadError maps a Receive error to a Severity. Closed connections and
// I/O failures are fatal; anything else is treated as recoverable.
func ClassifyReadError(err error) Severity {
	var (
		closeErr *websocket.CloseError
		netErr   net.Error
	)
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		return SeverityFatal
	}
	return SeverityRecoverable
}
