package victron_modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeInt16 interprets a single register payload as a big-endian two's-complement int16.
func DecodeInt16(payload []byte) (int16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("%w: expected 2 bytes, got %d", ErrDecodeFailure, len(payload))
	}
	return int16(binary.BigEndian.Uint16(payload)), nil
}

func EncodeInt16(value int16) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(value))
	return payload
}

// Scale divides raw by divisor and rounds to 3 decimal digits.
// The divisor is applied as configured: a divisor of 0.1 is a division, not a multiplication by 10.
func Scale(raw int16, divisor float64) float64 {
	return Round3(float64(raw) / divisor)
}

func Decode(payload []byte, divisor float64) (float64, error) {
	raw, err := DecodeInt16(payload)
	if err != nil {
		return 0, err
	}
	return Scale(raw, divisor), nil
}

func Round3(value float64) float64 {
	return math.RoundToEven(value*1000) / 1000
}
