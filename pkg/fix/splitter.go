package fix

import (
	"bytes"
	"regexp"
)

// frameMarker opens every well-formed frame. Marker occurrences delimit
// candidate frames; the span between two markers is a complete frame, the
// span after the last marker is complete only if it carries a full checksum
// trailer.
var frameMarker = []byte("8=FIX")

// trailerPattern matches a frame that ends in a syntactically valid checksum
// field: delimiter, "10=", exactly three digits, delimiter, optionally a
// trailing NUL left over from the transport read.
var trailerPattern = regexp.MustCompile(`\x0110=[0-9]{3}\x01\x00?$`)

// Split extracts every complete frame from buf and reports how many leading
// bytes were consumed. Bytes of an incomplete trailing frame are never
// consumed, so the caller can append the next read and retry; with no marker
// in buf nothing is consumed at all. Each extracted frame is independently
// decoded, and frames already extracted are returned even if a later
// candidate turns out to be unusable.
func (c *Codec) Split(buf []byte) ([]*Message, int) {
	starts := markerOffsets(buf)
	if len(starts) == 0 {
		return nil, 0
	}

	var msgs []*Message
	consumed := 0
	for i := 0; i+1 < len(starts); i++ {
		msgs = append(msgs, c.Decode(buf[starts[i]:starts[i+1]]))
		consumed = starts[i+1]
	}

	tail := buf[starts[len(starts)-1]:]
	if trailerPattern.Match(tail) {
		msgs = append(msgs, c.Decode(tail))
		consumed = len(buf)
	} else {
		// Back off to the start of the unfinished frame.
		consumed = starts[len(starts)-1]
	}

	c.log.Debug("split read buffer", "frames", len(msgs), "consumed", consumed, "buffered", len(buf)-consumed)
	return msgs, consumed
}

func markerOffsets(buf []byte) []int {
	var starts []int
	off := 0
	for {
		i := bytes.Index(buf[off:], frameMarker)
		if i < 0 {
			return starts
		}
		starts = append(starts, off+i)
		off += i + len(frameMarker)
	}
}
