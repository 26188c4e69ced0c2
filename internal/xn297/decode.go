package xn297

import "fmt"

// Frame is a decoded XN297 frame.
type Frame struct {
	Address  []byte
	Payload  []byte
	CRC      uint16
	HasCRC   bool
	CRCValid bool
}

// DecodeFrame undoes the whitening, address byte order and payload bit
// order of a captured frame. raw starts with the preamble filler when
// addrLen < 4. A trailing CRC is checked when at least two bytes follow
// the payload.
func DecodeFrame(raw []byte, addrLen, payloadLen int) (*Frame, error) {
	if err := checkLengths(addrLen, payloadLen); err != nil {
		return nil, err
	}

	offset := 0
	if addrLen < 4 {
		offset = 1
	}
	body := addrLen + payloadLen
	if len(raw) < offset+body {
		return nil, fmt.Errorf("%w: have %d bytes, want at least %d", ErrShortFrame, len(raw), offset+body)
	}
	data := raw[offset : offset+body]

	f := &Frame{
		Address: make([]byte, addrLen),
		Payload: make([]byte, payloadLen),
	}
	for i := 0; i < addrLen; i++ {
		f.Address[addrLen-1-i] = Whiten(data[i], i)
	}
	for i := 0; i < payloadLen; i++ {
		f.Payload[i] = BitReverse(Whiten(data[addrLen+i], addrLen+i))
	}

	if rest := raw[offset+body:]; len(rest) >= 2 {
		f.HasCRC = true
		f.CRC = uint16(rest[0])<<8 | uint16(rest[1])
		want, err := Checksum(data, addrLen, payloadLen)
		if err != nil {
			return nil, err
		}
		f.CRCValid = want == f.CRC
	}
	return f, nil
}
