package victron_modbus

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 2
)

// RegisterReader reads single holding registers with a bounded number of attempts.
type RegisterReader struct {
	maxAttempts int
	logger      *zap.Logger
}

func NewRegisterReader(maxAttempts int, logger *zap.Logger) *RegisterReader {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RegisterReader{
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (r *RegisterReader) MaxAttempts() int {
	return r.maxAttempts
}

// Read returns the signed register value at address. Transport errors and
// malformed payloads both consume an attempt. After the last failed attempt
// the error wraps ErrReadFailure or ErrDecodeFailure.
func (r *RegisterReader) Read(conn UnitConnection, address uint16) (int16, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		value, err := r.readOnce(conn, address)
		if err == nil {
			return value, nil
		}
		lastErr = err
		r.logger.Warn("modbus read attempt failed",
			zap.Uint8("unit_id", conn.UnitId()),
			zap.Uint16("address", address),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err))
	}
	return 0, fmt.Errorf("unit %d address %d: %d attempts failed: %w", conn.UnitId(), address, r.maxAttempts, lastErr)
}

func (r *RegisterReader) readOnce(conn UnitConnection, address uint16) (int16, error) {
	payload, err := conn.ReadHoldingRegisterBytes(address)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}
	return DecodeInt16(payload)
}
