package tuner

import (
	"errors"
	"fmt"
)

// DefaultAddress is the Si4703 7-bit two-wire address.
const DefaultAddress = 0x10

// Direction bit appended to the address byte
const (
	dirWrite = 0
	dirRead  = 1
)

const (
	readBurstLen  = NumRegs * 2
	writeBurstLen = WriteCount * 2
)

// ErrNack is wrapped by BusError when the device did not acknowledge.
var ErrNack = errors.New("no acknowledgement")

// Bus is the transaction layer between the register image and the device.
// Every call is a real transfer; nothing is cached and nothing is retried.
type Bus interface {
	// ReadAll reads the full register file in one transaction.
	ReadAll() (Image, error)

	// WriteSubset writes the six control registers 0x02-0x07 in one
	// transaction.
	WriteSubset(img Image) error
}

// Phase identifies where in a transaction a failure happened.
type Phase int

const (
	// PhaseAddress is the address byte after START.
	PhaseAddress Phase = iota
	// PhaseData is a data byte; BusError.Word and High locate it.
	PhaseData
	// PhaseTransfer is a kernel-managed transfer that does not say which
	// byte failed.
	PhaseTransfer
)

func (p Phase) String() string {
	switch p {
	case PhaseAddress:
		return "address"
	case PhaseData:
		return "data"
	case PhaseTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// BusError reports a failed bus transaction.
type BusError struct {
	Op    string // "read" or "write"
	Phase Phase
	Word  int  // word index within the burst, PhaseData only
	High  bool // upper byte of the word, PhaseData only
	Err   error
}

func (e *BusError) Error() string {
	switch e.Phase {
	case PhaseData:
		half := "lower"
		if e.High {
			half = "upper"
		}
		return fmt.Sprintf("si4703 %s: data phase, word %d %s byte: %v", e.Op, e.Word, half, e.Err)
	default:
		return fmt.Sprintf("si4703 %s: %s phase: %v", e.Op, e.Phase, e.Err)
	}
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// encodeWriteBurst returns the 12 bytes of a write burst, MSB first.
func encodeWriteBurst(img Image) []byte {
	buf := make([]byte, 0, writeBurstLen)
	for _, reg := range writeOrder {
		w := img.Word(reg)
		buf = append(buf, byte(w>>8), byte(w))
	}
	return buf
}

// decodeReadBurst assembles the 32 bytes of a read burst into an image.
func decodeReadBurst(buf []byte) Image {
	var words [NumRegs]uint16
	for i := range words {
		words[i] = uint16(buf[i*2])<<8 | uint16(buf[i*2+1])
	}
	return ImageFromWire(words)
}

// Wire is the byte-level two-wire capability: START, byte out with the
// slave's acknowledge, byte in with the master's acknowledge, STOP.
type Wire interface {
	Start() error
	Send(b byte) (ack bool, err error)
	Recv(ack bool) (byte, error)
	Stop() error
}

// WireBus runs the register transactions on a byte-level Wire.
type WireBus struct {
	wire Wire
	addr uint8
}

// NewWireBus returns a Bus talking to the device at addr over w.
func NewWireBus(w Wire, addr uint8) *WireBus {
	return &WireBus{wire: w, addr: addr}
}

// ReadAll reads 32 bytes starting at STATUSRSSI. Every byte but the last is
// acknowledged by the host.
func (b *WireBus) ReadAll() (Image, error) {
	if err := b.begin("read", dirRead); err != nil {
		return Image{}, err
	}

	buf := make([]byte, readBurstLen)
	for i := range buf {
		v, err := b.wire.Recv(i < len(buf)-1)
		if err != nil {
			b.wire.Stop()
			return Image{}, &BusError{Op: "read", Phase: PhaseData, Word: i / 2, High: i%2 == 0, Err: err}
		}
		buf[i] = v
	}

	if err := b.wire.Stop(); err != nil {
		return Image{}, &BusError{Op: "read", Phase: PhaseData, Word: NumRegs - 1, Err: err}
	}
	return decodeReadBurst(buf), nil
}

// WriteSubset writes POWERCFG through TEST1. The device starts at POWERCFG
// on its own, so no register address is sent.
func (b *WireBus) WriteSubset(img Image) error {
	if err := b.begin("write", dirWrite); err != nil {
		return err
	}

	for i, v := range encodeWriteBurst(img) {
		ack, err := b.wire.Send(v)
		if err == nil && !ack {
			err = ErrNack
		}
		if err != nil {
			b.wire.Stop()
			return &BusError{Op: "write", Phase: PhaseData, Word: i / 2, High: i%2 == 0, Err: err}
		}
	}

	if err := b.wire.Stop(); err != nil {
		return &BusError{Op: "write", Phase: PhaseData, Word: WriteCount - 1, Err: err}
	}
	return nil
}

// begin sends START and the address byte, releasing the bus on failure.
func (b *WireBus) begin(op string, dir byte) error {
	if err := b.wire.Start(); err != nil {
		return &BusError{Op: op, Phase: PhaseAddress, Err: err}
	}
	ack, err := b.wire.Send(b.addr<<1 | dir)
	if err == nil && !ack {
		err = ErrNack
	}
	if err != nil {
		b.wire.Stop()
		return &BusError{Op: op, Phase: PhaseAddress, Err: err}
	}
	return nil
}
