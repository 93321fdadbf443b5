package executor

import "bytes"

// capture keeps the head of one output stream up to a byte limit. Tool
// output is parsed line by line, so when bytes are dropped the kept text
// ends on the last complete line rather than mid-diagnostic.
type capture struct {
	buf     bytes.Buffer
	limit   int
	dropped int
	// cleanCut is set when the first dropped byte starts a new line.
	cleanCut bool
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	n := len(p)
	room := c.limit - c.buf.Len()
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		c.buf.Write(p[:room])
		p = p[room:]
	}
	if len(p) > 0 {
		if c.dropped == 0 {
			c.cleanCut = p[0] == '\n'
		}
		c.dropped += len(p)
	}
	return n, nil
}

// Dropped returns how many bytes did not fit.
func (c *capture) Dropped() int {
	return c.dropped
}

// Text returns the kept output.
func (c *capture) Text() string {
	out := c.buf.Bytes()
	if c.dropped > 0 && !c.cleanCut {
		i := bytes.LastIndexByte(out, '\n')
		out = out[:i+1]
	}
	return string(out)
}
