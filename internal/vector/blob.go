package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrNotAuthorized marks a semantic-store write rejected by the tier policy.
var ErrNotAuthorized = errors.New("not authorized")

// encodeFloat32SliceToBlob renders an embedding in the little-endian float32
// layout sqlite-vec expects for blob parameters.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		// Should never happen with bytes.Buffer
		return nil
	}
	return buf.Bytes()
}
