// Package trailer implements the fixed-layout frame trailer carried at the
// end of every encrypted media frame:
//
//	[unencrypted prefix][ciphertext][tag:16B][IV:12B][S|LEN|KID:1B]
//
// The trailer is appended rather than prepended so that the authenticated
// region stays a contiguous prefix slice of the original payload. The final
// metadata byte packs the S flag (bit 7), a 3-bit length field covering the
// tag+IV region in 4-byte units (bits 6..4, always 7), and the 4-bit key
// index (bits 3..0).
//
// Field widths are a wire-format contract, not negotiable at runtime.
package trailer

import (
	"errors"
)

const (
	// TagSize is the width of the AEAD authentication tag.
	TagSize = 16

	// IVSize is the width of the 96-bit initialization vector.
	IVSize = 12

	// MetaSize is the width of the packed flags/length/key-index byte.
	MetaSize = 1

	// Overhead is the total trailer length appended to each frame.
	Overhead = TagSize + IVSize + MetaSize

	// MaxKeyIndex is the largest key index the 4-bit KID field can carry.
	MaxKeyIndex = 15

	// lenField is the fixed value of the 3-bit length field: the tag+IV
	// region in 4-byte units. (16+12)/4 = 7.
	lenField = (TagSize + IVSize) / 4
)

var (
	// ErrTooShort indicates the buffer cannot contain a complete trailer.
	ErrTooShort = errors.New("buffer shorter than minimum trailer length")

	// ErrBadLength indicates the packed length field does not describe a
	// tag+IV region of the expected width.
	ErrBadLength = errors.New("trailer length field mismatch")

	// ErrKeyIndexRange indicates a key index outside the 4-bit KID field.
	ErrKeyIndexRange = errors.New("key index out of range")
)

// Trailer is the decoded form of the per-frame trailer. It is a transient
// view: nothing stores it beyond a single encode or decode.
type Trailer struct {
	IV       [IVSize]byte
	Tag      [TagSize]byte
	KeyIndex uint8
	SFlag    bool
}

// Serialize appends the encoded trailer to dst and returns the extended
// slice. The tag must be exactly TagSize bytes and keyIndex must fit the
// 4-bit KID field.
func Serialize(dst []byte, iv [IVSize]byte, tag []byte, keyIndex uint8, sFlag bool) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, errors.New("authentication tag must be 16 bytes")
	}
	if keyIndex > MaxKeyIndex {
		return nil, ErrKeyIndexRange
	}

	dst = append(dst, tag...)
	dst = append(dst, iv[:]...)
	dst = append(dst, packMeta(keyIndex, sFlag))
	return dst, nil
}

// Deserialize decodes the trailer from the end of buf. A failure means the
// buffer was not produced by this codec and the caller must treat the frame
// as not encrypted by us.
func Deserialize(buf []byte) (Trailer, error) {
	var t Trailer

	if len(buf) < Overhead {
		return t, ErrTooShort
	}

	meta := buf[len(buf)-1]
	if (meta>>4)&0x07 != lenField {
		return t, ErrBadLength
	}
	t.SFlag = meta&0x80 != 0
	t.KeyIndex = meta & 0x0F

	copy(t.IV[:], buf[len(buf)-MetaSize-IVSize:len(buf)-MetaSize])
	copy(t.Tag[:], buf[len(buf)-Overhead:len(buf)-MetaSize-IVSize])

	return t, nil
}

// Strip returns the portion of buf preceding the trailer. Callers must have
// validated buf with Deserialize first.
func Strip(buf []byte) []byte {
	return buf[:len(buf)-Overhead]
}

func packMeta(keyIndex uint8, sFlag bool) byte {
	meta := byte(lenField)<<4 | keyIndex&0x0F
	if sFlag {
		meta |= 0x80
	}
	return meta
}
