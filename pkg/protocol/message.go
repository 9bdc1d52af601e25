// Package protocol implements the fixed-size frame format shared by the
// relay server and its clients.
//
// A frame is exactly Size bytes: the UTF-8 text followed by zero padding.
// There is no length prefix and no escaping, so a zero byte inside the
// text is indistinguishable from padding. Both peers must agree on the
// frame size; a mismatch is not detected.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// DefaultFrameSize is the frame length used when none is configured.
const DefaultFrameSize = 32

// ErrFrameSize is returned for a frame size that cannot hold any text.
var ErrFrameSize = errors.New("invalid frame size")

// ValidateSize reports whether size can be used as a frame size.
func ValidateSize(size int) error {
	if size < 1 {
		return fmt.Errorf("%w: %d", ErrFrameSize, size)
	}
	return nil
}

// Message represents one relayed text.
type Message struct {
	Text string
	// Sender is the remote address of the originating connection.
	// Empty on the client side.
	Sender string
	Size   int
}

// NewMessage creates a Message for the given frame size.
func NewMessage(size int, text, sender string) Message {
	return Message{Text: text, Sender: sender, Size: size}
}

// Frame encodes the message into a frame of m.Size bytes.
func (m Message) Frame() []byte {
	return Encode(m.Text, m.Size)
}

// Encode writes text into a zero-padded frame of exactly size bytes.
// Text longer than size is cut silently; the cut backs off to the
// previous rune boundary so the result stays valid UTF-8.
func Encode(text string, size int) []byte {
	if size < 0 {
		size = 0
	}
	frame := make([]byte, size)
	copy(frame, truncate(text, size))
	return frame
}

// Decode extracts the text stored in frame. It reads up to the first zero
// byte or the end of the buffer. ok is false when those bytes are not
// valid UTF-8, in which case the frame carries no message.
func Decode(frame []byte) (text string, ok bool) {
	if i := bytes.IndexByte(frame, 0); i >= 0 {
		frame = frame[:i]
	}
	if !utf8.Valid(frame) {
		return "", false
	}
	return string(frame), true
}

// ReadFrame reads exactly one frame into buf.
func ReadFrame(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// Fit pads or cuts data to exactly size bytes. It is used for transports
// that deliver whole messages instead of a byte stream.
func Fit(data []byte, size int) []byte {
	if len(data) == size {
		return data
	}
	frame := make([]byte, size)
	copy(frame, data)
	return frame
}

func truncate(text string, size int) string {
	if len(text) <= size {
		return text
	}
	cut := size
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
