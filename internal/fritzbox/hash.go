package fritzbox

import (
	"crypto/md5"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ResponseHash computes the login response for a challenge.
//
// The router expects MD5 over the UTF-16LE encoding of "challenge-password".
// Deployed clients additionally read those UTF-16LE bytes back as UTF-8,
// replacing each malformed sequence with U+FFFD, before hashing. Routers accept
// the result because ASCII input round-trips unchanged. The quirk is kept so
// non-ASCII passwords produce the same digest existing installations use.
func ResponseHash(challenge, password string) string {
	return challenge + "-" + digest(challenge+"-"+password)
}

func digest(s string) string {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Only reachable for invalid UTF-8 input; hash what we have.
		encoded = []byte(s)
	}
	sum := md5.Sum(reinterpretUTF8(encoded))
	return hex.EncodeToString(sum[:])
}

// reinterpretUTF8 decodes b as UTF-8 and returns the re-encoded result.
// Malformed input is replaced the way the JVM's UTF-8 decoder does it: a
// lead byte and the continuation bytes it validly started fold into a
// single U+FFFD.
func reinterpretUTF8(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			out = append(out, b[:size]...)
			b = b[size:]
			continue
		}
		out = utf8.AppendRune(out, utf8.RuneError)
		b = b[malformedLen(b):]
	}
	return out
}

// malformedLen returns how many bytes at the start of b, which does not
// begin with a valid sequence, collapse into one replacement character.
// Encoded surrogates (ED A0..BF xx) count as one three-byte sequence.
func malformedLen(b []byte) int {
	cont := func(i int) bool { return i < len(b) && b[i]&0xC0 == 0x80 }

	switch b0 := b[0]; {
	case b0 >= 0xE0 && b0 <= 0xEF:
		if !cont(1) || (b0 == 0xE0 && b[1] < 0xA0) {
			return 1
		}
		if cont(2) {
			return 3
		}
		return 2
	case b0 >= 0xF0 && b0 <= 0xF4:
		if !cont(1) || (b0 == 0xF0 && b[1] < 0x90) || (b0 == 0xF4 && b[1] > 0x8F) {
			return 1
		}
		if cont(2) {
			return 3
		}
		return 2
	}
	return 1
}
