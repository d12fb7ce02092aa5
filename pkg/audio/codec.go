package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode is matched by every [DecodeError].
var ErrDecode = errors.New("audio: malformed transport data")

var errOddLength = errors.New("odd byte count for 16-bit PCM")

// DecodeError reports transport data or PCM bytes that could not be decoded.
type DecodeError struct {
	// Offset is the byte offset of the first bad input byte, or -1 when unknown.
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("audio: decode at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("audio: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports ErrDecode as a match so callers can test with errors.Is.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// EncodeTransport returns the text-safe transport encoding (standard base64)
// of b. DecodeTransport(EncodeTransport(b)) returns b for every input.
func EncodeTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeTransport reverses [EncodeTransport]. Malformed input yields a
// [*DecodeError].
func DecodeTransport(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		offset := int64(-1)
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			offset = int64(corrupt)
		}
		return nil, &DecodeError{Offset: offset, Err: err}
	}
	return b, nil
}

// FloatToInt16 clamps f to [-1, 1] and scales it to a signed 16-bit sample.
// Negative values scale by 32768 and positive values by 32767 so both ends
// of the int16 range are reachable. NaN maps to silence.
func FloatToInt16(f float32) int16 {
	if f != f {
		return 0
	}
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(f * 32768)
	}
	return int16(f * 32767)
}

// FloatToPCM16 converts float samples to 16-bit little-endian PCM bytes.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(s)))
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM bytes to float samples by
// dividing each sample by 32768. An odd byte count is a [*DecodeError].
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Offset: int64(len(pcm) - 1), Err: errOddLength}
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// EncodePCM16 converts float samples to transport-encoded 16-bit PCM.
func EncodePCM16(samples []float32) string {
	return EncodeTransport(FloatToPCM16(samples))
}

// DecodePCM16 turns a transport-encoded 16-bit PCM chunk into float samples.
func DecodePCM16(s string) ([]float32, error) {
	pcm, err := DecodeTransport(s)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat(pcm)
}

// Float32LE writes samples into dst as IEEE-754 little-endian float32 and
// returns the number of bytes written. dst must hold len(samples)*4 bytes.
func Float32LE(dst []byte, samples []float32) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return len(samples) * 4
}
