package session

import (
	"errors"
	"io"
)

const readChunk = 4096

// lineReader splits local input into lines of at most max bytes. It reads only
// when told the source is ready, so it never blocks waiting for a terminator.
// A line longer than max is cut at max bytes and the rest of it, up to and
// including the newline, is dropped.
type lineReader struct {
	r        io.Reader
	max      int
	cur      []byte
	lines    [][]byte
	skipping bool
	eof      bool
	scratch  []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: r, max: max, scratch: make([]byte, readChunk)}
}

// fill performs exactly one Read on the source.
func (lr *lineReader) fill() error {
	n, err := lr.r.Read(lr.scratch)
	lr.absorb(lr.scratch[:n])

	if errors.Is(err, io.EOF) {
		if len(lr.cur) > 0 {
			lr.lines = append(lr.lines, lr.cur)
			lr.cur = nil
		}

		lr.eof = true
		return nil
	}

	return err
}

func (lr *lineReader) absorb(b []byte) {
	for _, c := range b {
		if lr.skipping {
			if c == '\n' {
				lr.skipping = false
			}
			continue
		}

		lr.cur = append(lr.cur, c)
		if c == '\n' {
			lr.lines = append(lr.lines, lr.cur)
			lr.cur = nil
			continue
		}

		if len(lr.cur) >= lr.max {
			lr.lines = append(lr.lines, lr.cur)
			lr.cur = nil
			lr.skipping = true
		}
	}
}

func (lr *lineReader) hasLine() bool {
	return len(lr.lines) > 0
}

func (lr *lineReader) next() ([]byte, bool) {
	if len(lr.lines) == 0 {
		return nil, false
	}

	line := lr.lines[0]
	lr.lines[0] = nil
	lr.lines = lr.lines[1:]
	return line, true
}

// done reports that the source hit EOF and every line has been taken.
func (lr *lineReader) done() bool {
	return lr.eof && len(lr.lines) == 0
}
