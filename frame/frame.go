// Package frame converts between typed lines of chat text and the fixed-size
// frames exchanged over a sequenced-packet socket.
//
// A frame carries "<handle>: <text>" and nothing else. There is no length prefix
// or delimiter: one socket write is one frame, and the transport keeps the
// boundaries. Frames are always written at full size, zero-padded.
package frame

import "bytes"

// DefaultSize is the frame size used when none is configured.
const DefaultSize = 128

// PromptSuffix separates the handle from the text.
const PromptSuffix = ": "

// Prompt returns the prefix put in front of every outgoing line.
func Prompt(handle string) string {
	return handle + PromptSuffix
}

// Encode returns a frame of exactly size bytes holding prompt followed by line.
// Content that does not fit is truncated; unused bytes are zero.
func Encode(prompt, line string, size int) []byte {
	f := make([]byte, size)
	EncodeInto(f, prompt, line)
	return f
}

// EncodeInto writes prompt followed by line into dst, zero-filling the rest of dst.
// It never writes past len(dst). It returns the number of content bytes written.
func EncodeInto(dst []byte, prompt, line string) int {
	n := copy(dst, prompt)
	n += copy(dst[n:], line)
	clear(dst[n:])
	return n
}

// Decode returns the text held in a received frame: everything up to the first
// NUL byte, or the whole frame when there is none. The content is not validated.
func Decode(f []byte) string {
	if i := bytes.IndexByte(f, 0); i >= 0 {
		f = f[:i]
	}

	return string(f)
}

// MaxLine returns how many bytes of typed text fit after prompt in a frame of size bytes.
func MaxLine(prompt string, size int) int {
	return max(size-len(prompt), 0)
}
