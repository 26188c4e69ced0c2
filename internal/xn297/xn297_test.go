package xn297

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

var (
	testAddr    = [MaxAddressLength]byte{0x20, 0x21, 0x01, 0x31, 0xAA}
	testPayload = []byte{0x00, 0x76, 0x9A, 0x31, 0x04, 0x20}
)

// fakeRadio records every call in order.
type fakeRadio struct {
	calls    []string
	written  [][]byte
	writeOK  bool
	beginErr error
}

func (r *fakeRadio) record(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

func (r *fakeRadio) Begin() error {
	r.record("begin")
	return r.beginErr
}
func (r *fakeRadio) SetPALevel(l PALevel) error       { return r.record("pa_level %s", l) }
func (r *fakeRadio) SetChannel(ch uint8) error        { return r.record("channel %d", ch) }
func (r *fakeRadio) SetPayloadSize(n uint8) error     { return r.record("payload_size %d", n) }
func (r *fakeRadio) SetDataRate(d DataRate) error     { return r.record("data_rate %s", d) }
func (r *fakeRadio) OpenWritingPipe(a []byte) error   { return r.record("writing_pipe % x", a) }
func (r *fakeRadio) SetAutoAck(on bool) error         { return r.record("auto_ack %t", on) }
func (r *fakeRadio) SetAddressWidth(w uint8) error    { return r.record("address_width %d", w) }
func (r *fakeRadio) DisableCRC() error                { return r.record("disable_crc") }
func (r *fakeRadio) SetRetries(delay, n uint8) error  { return r.record("retries %d %d", delay, n) }
func (r *fakeRadio) WriteRegister(reg byte, d ...byte) error {
	return r.record("write_register %02x % x", reg, d)
}
func (r *fakeRadio) Write(buf []byte) bool {
	r.written = append(r.written, append([]byte(nil), buf...))
	return r.writeOK
}

func TestBitReverseInvolution(t *testing.T) {
	for v := 0; v < 256; v++ {
		b := byte(v)
		if got := BitReverse(BitReverse(b)); got != b {
			t.Fatalf("BitReverse(BitReverse(%#02x)) = %#02x", b, got)
		}
	}

	tests := []struct{ in, want byte }{
		{0x00, 0x00},
		{0x01, 0x80},
		{0x0F, 0xF0},
		{0x80, 0x01},
		{0xA5, 0xA5},
	}
	for _, tt := range tests {
		if got := BitReverse(tt.in); got != tt.want {
			t.Errorf("BitReverse(%#02x) = %#02x, want %#02x", tt.in, got, tt.want)
		}
	}
}

func TestWhitenInvolution(t *testing.T) {
	for i := 0; i < ScrambleLen; i++ {
		for v := 0; v < 256; v++ {
			b := byte(v)
			if got := Whiten(Whiten(b, i), i); got != b {
				t.Fatalf("Whiten twice at index %d changed %#02x to %#02x", i, b, got)
			}
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		addr    []byte
		payload []byte
		want    []byte
	}{
		{
			name:    "5-byte address",
			addr:    testAddr[:],
			payload: testPayload,
			want:    []byte{0x49, 0x80, 0x4A, 0xCB, 0xA5, 0xBC, 0x8B, 0x3F, 0x81, 0x8E, 0x88, 0xA1, 0xDE},
		},
		{
			// Captured from a genuine remote.
			name:    "captured frame",
			addr:    testAddr[:],
			payload: []byte{0x00, 0x76, 0x9A, 0x31, 0x4A, 0x20},
			want:    []byte{0x49, 0x80, 0x4A, 0xCB, 0xA5, 0xBC, 0x8B, 0x3F, 0x81, 0xFC, 0x88, 0xCF, 0xE5},
		},
		{
			name:    "4-byte address",
			addr:    testAddr[:4],
			payload: testPayload,
			want:    []byte{0xD2, 0xB0, 0x6A, 0xCA, 0x85, 0xD2, 0xBC, 0xEA, 0x2D, 0xAA, 0xB1, 0x9F},
		},
		{
			name:    "3-byte address gets filler",
			addr:    testAddr[:3],
			payload: testPayload,
			want:    []byte{0x55, 0xE2, 0x90, 0x6B, 0xEA, 0xEB, 0xE5, 0x69, 0x46, 0x09, 0xA8, 0x0E},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeFrame(tt.addr, tt.payload, true)
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeFrame() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	got, err := EncodeFrame(testAddr[:], testPayload, false)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	want := make([]byte, 0, 11)
	for i := 0; i < 5; i++ {
		want = append(want, testAddr[4-i]^scramble[i])
	}
	for i, b := range testPayload {
		want = append(want, BitReverse(b)^scramble[5+i])
	}
	if !bytes.Equal(got, want) {
		t.Errorf("pre-CRC frame = % X, want % X", got, want)
	}
	if got[0] == preambleFiller {
		t.Errorf("5-byte address frame must not start with filler")
	}
}

func TestChecksumSingleBitFlip(t *testing.T) {
	frame, err := EncodeFrame(testAddr[:], testPayload, false)
	if err != nil {
		t.Fatal(err)
	}
	base, err := Checksum(frame, 5, len(testPayload))
	if err != nil {
		t.Fatal(err)
	}

	again, _ := Checksum(frame, 5, len(testPayload))
	if again != base {
		t.Fatalf("Checksum not deterministic: %#04x vs %#04x", base, again)
	}

	for i := 5; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), frame...)
			flipped[i] ^= 1 << bit
			crc, err := Checksum(flipped, 5, len(testPayload))
			if err != nil {
				t.Fatal(err)
			}
			if crc == base {
				t.Errorf("flipping byte %d bit %d left CRC unchanged (%#04x)", i, bit, crc)
			}
		}
	}
}

func TestCheckLengths(t *testing.T) {
	tests := []struct {
		name       string
		addrLen    int
		payloadLen int
		wantErr    error
	}{
		{"address too short", 2, 6, ErrAddressLength},
		{"address too long", 6, 6, ErrAddressLength},
		{"empty payload", 5, 0, ErrPayloadLength},
		{"payload beyond tables", 5, 26, ErrPayloadLength},
		{"largest 5-byte frame", 5, 25, nil},
		{"command frame", 5, 6, nil},
		{"3-byte address", 3, 6, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkLengths(tt.addrLen, tt.payloadLen)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("checkLengths(%d, %d) = %v, want %v", tt.addrLen, tt.payloadLen, err, tt.wantErr)
			}
		})
	}
}

func TestConfigureOrder(t *testing.T) {
	tests := []struct {
		name    string
		addrLen int
		want    []string
	}{
		{
			name:    "5-byte address",
			addrLen: 5,
			want: []string{
				"begin",
				"pa_level max",
				"channel 2",
				"payload_size 13",
				"data_rate 1mbps",
				"writing_pipe 20 21 01 31 aa",
				"auto_ack false",
				"address_width 5",
				"disable_crc",
				"retries 0 0",
				"write_register 03 03",
				"write_register 10 55 0f 71 0c 00",
			},
		},
		{
			name:    "3-byte address",
			addrLen: 3,
			want: []string{
				"begin",
				"pa_level max",
				"channel 2",
				"payload_size 12",
				"data_rate 1mbps",
				"writing_pipe 20 21 01 31 aa",
				"auto_ack false",
				"address_width 5",
				"disable_crc",
				"retries 0 0",
				"write_register 03 01",
				"write_register 10 0f 71 0c 00 00",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := &fakeRadio{}
			e := NewEmulator(radio)
			err := e.Configure(Settings{
				Channel:       2,
				PALevel:       PAMax,
				DataRate:      DataRate1Mbps,
				Address:       testAddr,
				AddressLength: tt.addrLen,
				PayloadLength: 6,
			})
			if err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			if len(radio.calls) != len(tt.want) {
				t.Fatalf("got %d calls %q, want %d", len(radio.calls), radio.calls, len(tt.want))
			}
			for i := range tt.want {
				if radio.calls[i] != tt.want[i] {
					t.Errorf("call %d = %q, want %q", i, radio.calls[i], tt.want[i])
				}
			}
		})
	}
}

func TestConfigureRejectsBeforeTouchingRadio(t *testing.T) {
	radio := &fakeRadio{}
	e := NewEmulator(radio)
	err := e.Configure(Settings{Address: testAddr, AddressLength: 6, PayloadLength: 6})
	if !errors.Is(err, ErrAddressLength) {
		t.Fatalf("Configure() error = %v, want ErrAddressLength", err)
	}
	if len(radio.calls) != 0 {
		t.Errorf("radio touched on config error: %q", radio.calls)
	}
}

func TestConfigureRadioInitFailure(t *testing.T) {
	radio := &fakeRadio{beginErr: errors.New("no chip")}
	e := NewEmulator(radio)
	err := e.Configure(Settings{Address: testAddr, AddressLength: 5, PayloadLength: 6})
	if !errors.Is(err, ErrRadioInit) {
		t.Fatalf("Configure() error = %v, want ErrRadioInit", err)
	}
	if len(radio.calls) != 1 {
		t.Errorf("configuration continued after begin failed: %q", radio.calls)
	}
}

func TestSendPayloadCountsEveryWrite(t *testing.T) {
	radio := &fakeRadio{writeOK: false}
	e := NewEmulator(radio)

	if e.SendPayload(testPayload) {
		t.Fatal("SendPayload() succeeded without an address")
	}
	if e.Packets() != 0 {
		t.Fatalf("Packets() = %d before any transmit", e.Packets())
	}

	if err := e.Configure(Settings{Address: testAddr, AddressLength: 5, PayloadLength: 6}); err != nil {
		t.Fatal(err)
	}
	if e.SendPayload(testPayload) {
		t.Error("SendPayload() = true, radio reported failure")
	}
	radio.writeOK = true
	if !e.SendPayload(testPayload) {
		t.Error("SendPayload() = false, radio reported success")
	}
	if e.Packets() != 2 {
		t.Errorf("Packets() = %d, want 2", e.Packets())
	}
	if !bytes.Equal(radio.written[0], radio.written[1]) {
		t.Errorf("identical payloads produced different frames")
	}

	if e.SendPayload([]byte{0x01}) {
		t.Error("SendPayload() accepted a payload of the wrong size")
	}
	if e.Packets() != 2 {
		t.Errorf("rejected payload advanced the counter")
	}

	e.ResetPackets()
	if e.Packets() != 0 {
		t.Errorf("ResetPackets() left %d", e.Packets())
	}
}

func TestDecodeFrame(t *testing.T) {
	raw := []byte{0x49, 0x80, 0x4A, 0xCB, 0xA5, 0xBC, 0x8B, 0x3F, 0x81, 0xFC, 0x88, 0xCF, 0xE5}

	f, err := DecodeFrame(raw, 5, 6)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if !bytes.Equal(f.Address, testAddr[:]) {
		t.Errorf("Address = % X, want % X", f.Address, testAddr)
	}
	wantPayload := []byte{0x00, 0x76, 0x9A, 0x31, 0x4A, 0x20}
	if !bytes.Equal(f.Payload, wantPayload) {
		t.Errorf("Payload = % X, want % X", f.Payload, wantPayload)
	}
	if !f.HasCRC || !f.CRCValid {
		t.Errorf("CRC not verified: has=%t valid=%t", f.HasCRC, f.CRCValid)
	}

	corrupt := append([]byte(nil), raw...)
	corrupt[7] ^= 0x10
	f, err = DecodeFrame(corrupt, 5, 6)
	if err != nil {
		t.Fatal(err)
	}
	if f.CRCValid {
		t.Error("corrupted frame passed CRC check")
	}

	if _, err := DecodeFrame(raw[:8], 5, 6); !errors.Is(err, ErrShortFrame) {
		t.Errorf("DecodeFrame(short) error = %v, want ErrShortFrame", err)
	}
}

func TestDecodeFrameShortAddress(t *testing.T) {
	raw, err := EncodeFrame(testAddr[:3], testPayload, true)
	if err != nil {
		t.Fatal(err)
	}
	f, err := DecodeFrame(raw, 3, len(testPayload))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if !bytes.Equal(f.Address, testAddr[:3]) || !bytes.Equal(f.Payload, testPayload) || !f.CRCValid {
		t.Errorf("DecodeFrame() = %+v", f)
	}
}
