package format

import "github.com/Klump3n/platt-backend-sub000/errors"

const (
	skinElementMask = 0x03FFFFFF
	skinFaceShift   = 26
)

// SkinFace is one precomputed surface face: an element index and the
// zero-based index of the face in the type's face table.
type SkinFace struct {
	Element int32
	Face    int
}

// DecodeSkin unpacks a skin file: low 26 bits element index, high 6 bits
// face id.
func DecodeSkin(blob []byte) ([]SkinFace, error) {
	packed, err := Decode[int32](blob, SkinLayout)
	if err != nil {
		return nil, err
	}
	out := make([]SkinFace, len(packed.Data))
	for i, v := range packed.Data {
		u := uint32(v)
		out[i] = SkinFace{
			Element: int32(u & skinElementMask),
			Face:    int(u >> skinFaceShift),
		}
	}
	return out, nil
}

// EncodeSkin packs faces into the skin file layout.
func EncodeSkin(faces []SkinFace) ([]byte, error) {
	packed := make([]int32, len(faces))
	for i, f := range faces {
		if f.Element < 0 || f.Element > skinElementMask || f.Face < 0 || f.Face > 63 {
			return nil, errors.WrapInvalid(
				errors.Kind(errors.ErrMalformedBinary, "skin face %+v out of range", f),
				"format", "EncodeSkin", "pack face")
		}
		packed[i] = int32(uint32(f.Face)<<skinFaceShift | uint32(f.Element))
	}
	return EncodeInt32(packed), nil
}
