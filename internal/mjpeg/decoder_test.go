package mjpeg

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func jpegSpan(payload ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

func multipart(frames ...[]byte) []byte {
	var b bytes.Buffer
	for _, f := range frames {
		b.WriteString("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
		b.Write(f)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func collect(d *Decoder, chunks ...[]byte) [][]byte {
	var out [][]byte
	for _, c := range chunks {
		d.Feed(c, func(f []byte) { out = append(out, f) })
	}
	return out
}

func TestDecoder_ChunkBoundaryIndependence(t *testing.T) {
	frame := jpegSpan(0x00, 0x10, 0xFF, 0x00, 0xFF, 0xE0, 0x4A, 0x46, 0xFF, 0xFF, 0xC4)
	input := multipart(frame)

	for size := 1; size <= len(input); size++ {
		var chunks [][]byte
		for i := 0; i < len(input); i += size {
			end := min(i+size, len(input))
			chunks = append(chunks, input[i:end])
		}
		got := collect(NewDecoder(0), chunks...)
		if len(got) != 1 {
			t.Fatalf("chunk size %d: got %d frames, want 1", size, len(got))
		}
		if !bytes.Equal(got[0], frame) {
			t.Fatalf("chunk size %d: frame = % x, want % x", size, got[0], frame)
		}
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		var chunks [][]byte
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := collect(NewDecoder(0), chunks...)
		if len(got) != 1 || !bytes.Equal(got[0], frame) {
			t.Fatalf("random split %d: frames = %x", i, got)
		}
	}
}

func TestDecoder_NoPartialFrameLeakage(t *testing.T) {
	partial := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03}
	complete := jpegSpan(0x04, 0x05)

	var discarded []int
	d := NewDecoder(0)
	d.OnDiscard = func(reason string, size int) {
		if reason != DiscardSuperseded {
			t.Errorf("discard reason = %q, want %q", reason, DiscardSuperseded)
		}
		discarded = append(discarded, size)
	}

	got := collect(d, append(append([]byte{}, partial...), complete...))
	if diff := cmp.Diff([][]byte{complete}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	if len(discarded) != 1 || discarded[0] != len(partial) {
		t.Errorf("discarded = %v, want [%d]", discarded, len(partial))
	}
}

func TestDecoder(t *testing.T) {
	f1 := jpegSpan(0x01)
	f2 := jpegSpan(0x02, 0x03)

	tests := []struct {
		name  string
		input []byte
		want  [][]byte
	}{
		{
			name:  "two frames with boundaries",
			input: multipart(f1, f2),
			want:  [][]byte{f1, f2},
		},
		{
			name:  "eoi outside a frame is ignored",
			input: append([]byte{0xFF, 0xD9, 0x00}, f1...),
			want:  [][]byte{f1},
		},
		{
			name:  "empty frame",
			input: []byte{0xFF, 0xD8, 0xFF, 0xD9},
			want:  [][]byte{{0xFF, 0xD8, 0xFF, 0xD9}},
		},
		{
			name:  "unterminated frame is not emitted",
			input: []byte{0xFF, 0xD8, 0x01, 0x02},
			want:  nil,
		},
		{
			name:  "garbage only",
			input: []byte("--frame\r\n\r\nhello"),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(NewDecoder(0), tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("frames mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecoder_EmittedFramesAreIndependent(t *testing.T) {
	d := NewDecoder(0)
	got := collect(d, jpegSpan(0xAA), jpegSpan(0xBB))
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0][2] != 0xAA || got[1][2] != 0xBB {
		t.Errorf("frames share storage: % x / % x", got[0], got[1])
	}
}

func TestDecoder_MaxFrameBytes(t *testing.T) {
	big := jpegSpan(bytes.Repeat([]byte{0x11}, 64)...)
	small := jpegSpan(0x22)

	var reasons []string
	d := NewDecoder(16)
	d.OnDiscard = func(reason string, _ int) { reasons = append(reasons, reason) }

	got := collect(d, multipart(big, small))
	if diff := cmp.Diff([][]byte{small}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{DiscardOversize}, reasons); diff != "" {
		t.Errorf("discard reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder(0)
	collect(d, []byte{0xFF, 0xD8, 0x01, 0xFF})
	if !d.InFrame() {
		t.Fatal("InFrame() = false after SOI")
	}
	d.Reset()
	if got := collect(d, []byte{0xD9}); got != nil {
		t.Errorf("frames after Reset = %x, want none", got)
	}
}
