package xn297

// DataRate is the on-air bit rate.
type DataRate uint8

const (
	DataRate1Mbps DataRate = iota
	DataRate2Mbps
	DataRate250Kbps
)

func (r DataRate) String() string {
	switch r {
	case DataRate1Mbps:
		return "1mbps"
	case DataRate2Mbps:
		return "2mbps"
	case DataRate250Kbps:
		return "250kbps"
	default:
		return "unknown"
	}
}

// PALevel is the transmit power amplifier setting.
type PALevel uint8

const (
	PAMin PALevel = iota
	PALow
	PAHigh
	PAMax
)

func (p PALevel) String() string {
	switch p {
	case PAMin:
		return "min"
	case PALow:
		return "low"
	case PAHigh:
		return "high"
	case PAMax:
		return "max"
	default:
		return "unknown"
	}
}

// ParsePALevel maps a config string to a PALevel.
func ParsePALevel(s string) (PALevel, bool) {
	for _, p := range []PALevel{PAMin, PALow, PAHigh, PAMax} {
		if p.String() == s {
			return p, true
		}
	}
	return PAMax, false
}

// Register addresses the emulator programs directly.
const (
	RegSetupAW byte = 0x03
	RegTXAddr  byte = 0x10
)

// Radio is the nRF24L01 surface the emulator needs. Implementations are
// expected to be synchronous; Write returns what the chip reported for a
// single transmission.
type Radio interface {
	Begin() error
	SetPALevel(level PALevel) error
	SetChannel(channel uint8) error
	SetPayloadSize(size uint8) error
	SetDataRate(rate DataRate) error
	OpenWritingPipe(address []byte) error
	SetAutoAck(enabled bool) error
	SetAddressWidth(width uint8) error
	DisableCRC() error
	SetRetries(delay, count uint8) error
	WriteRegister(reg byte, data ...byte) error
	Write(buf []byte) bool
}
