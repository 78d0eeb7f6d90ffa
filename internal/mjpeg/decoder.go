// Package mjpeg cuts JPEG frames out of a multipart MJPEG byte stream and
// manages the HTTP session that carries it.
package mjpeg

// JPEG start-of-image and end-of-image marker bytes (both preceded by 0xFF).
const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
)

// Discard reasons reported by Decoder.
const (
	DiscardSuperseded = "superseded"
	DiscardOversize   = "oversize"
)

// Decoder is a byte-pair state machine that extracts every SOI..EOI span
// from a stream. Multipart boundaries and headers between frames are
// dropped. Output does not depend on how input is split across Feed calls.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	maxFrame int
	prev     byte
	inFrame  bool
	buf      []byte

	// OnDiscard, if set, is called with the size of every partial frame
	// that is dropped.
	OnDiscard func(reason string, size int)
}

// NewDecoder creates a Decoder. Frames growing past maxFrameBytes are
// dropped; zero or negative means unlimited.
func NewDecoder(maxFrameBytes int) *Decoder {
	return &Decoder{maxFrame: maxFrameBytes}
}

// Feed consumes p and calls emit once per completed frame, in stream order.
// The emitted slice belongs to the callee.
func (d *Decoder) Feed(p []byte, emit func(frame []byte)) {
	for _, cur := range p {
		prev := d.prev
		d.prev = cur

		if prev == markerPrefix && cur == markerSOI {
			if d.inFrame && len(d.buf) > 1 {
				// The 0xFF just appended belongs to the new SOI.
				d.discard(DiscardSuperseded, len(d.buf)-1)
			}
			d.buf = append(d.buf[:0], markerPrefix, markerSOI)
			d.inFrame = true
			continue
		}
		if !d.inFrame {
			continue
		}

		d.buf = append(d.buf, cur)
		if prev == markerPrefix && cur == markerEOI {
			frame := d.buf
			d.buf = nil
			d.inFrame = false
			emit(frame)
			continue
		}
		if d.maxFrame > 0 && len(d.buf) > d.maxFrame {
			d.discard(DiscardOversize, len(d.buf))
			d.buf = d.buf[:0]
			d.inFrame = false
		}
	}
}

// Reset drops any partial frame and forgets the previous byte.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
	d.prev = 0
}

// InFrame reports whether a frame is partially buffered.
func (d *Decoder) InFrame() bool { return d.inFrame }

func (d *Decoder) discard(reason string, size int) {
	if d.OnDiscard != nil {
		d.OnDiscard(reason, size)
	}
}
