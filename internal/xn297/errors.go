package xn297

import "errors"

var (
	ErrAddressLength = errors.New("address length must be between 3 and 5")
	ErrPayloadLength = errors.New("unsupported payload length")
	ErrNotConfigured = errors.New("tx address not configured")
	ErrRadioInit     = errors.New("radio init failed")
	ErrShortFrame    = errors.New("frame too short")
)
