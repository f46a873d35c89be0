package tuner

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ResetLines drives the Si4703 reset pin. The chip selects its control
// interface on the rising edge of RST: SDIO low with SEN high picks the
// two-wire bus.
type ResetLines struct {
	chip     *gpiocdev.Chip
	rstLine  *gpiocdev.Line
	chipPath string
	rstPin   int
	sdioPin  int
}

// NewResetLines opens the GPIO chip and claims the reset pin, initially low.
func NewResetLines(chipPath string, rstPin, sdioPin int) (*ResetLines, error) {
	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	rst, err := chip.RequestLine(
		rstPin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("si4703-reset"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request reset pin %d: %w", rstPin, err)
	}

	return &ResetLines{
		chip:     chip,
		rstLine:  rst,
		chipPath: chipPath,
		rstPin:   rstPin,
		sdioPin:  sdioPin,
	}, nil
}

// Reset puts the chip into two-wire mode: hold RST low with SDIO low, wait
// 1 ms, release RST, wait 1 ms, then give SDIO back to the bus. RST stays
// driven high until Close.
func (r *ResetLines) Reset(ctx context.Context) error {
	sdio, err := r.chip.RequestLine(
		r.sdioPin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("si4703-mode"),
	)
	if err != nil {
		return fmt.Errorf("failed to request SDIO pin %d: %w", r.sdioPin, err)
	}
	defer sdio.Close()

	if err := r.rstLine.SetValue(0); err != nil {
		return fmt.Errorf("failed to set reset pin LOW: %w", err)
	}
	if err := sleepCtx(ctx, time.Millisecond); err != nil {
		return err
	}
	if err := r.rstLine.SetValue(1); err != nil {
		return fmt.Errorf("failed to set reset pin HIGH: %w", err)
	}
	return sleepCtx(ctx, time.Millisecond)
}

// Close releases the reset pin and the chip.
func (r *ResetLines) Close() error {
	var errs []error

	if r.rstLine != nil {
		if err := r.rstLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reset line: %w", err))
		}
		r.rstLine = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing reset lines: %v", errs)
	}
	return nil
}

func (r *ResetLines) String() string {
	return fmt.Sprintf("GPIO: %s, Reset Pin: %d, SDIO Pin: %d", r.chipPath, r.rstPin, r.sdioPin)
}

// GPIOWire bit-bangs the two-wire bus on two GPIO lines. A line is pulled
// low by driving it as an output and released by switching it to input,
// so both lines behave as open drain with the board's pull-ups.
type GPIOWire struct {
	chip *gpiocdev.Chip
	sda  *gpiocdev.Line
	scl  *gpiocdev.Line
	half time.Duration
}

// NewGPIOWire claims the SDIO and SCLK pins. half is half a clock period.
func NewGPIOWire(chipPath string, sdioPin, sclkPin int, half time.Duration) (*GPIOWire, error) {
	if half <= 0 {
		half = 5 * time.Microsecond
	}

	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	sda, err := chip.RequestLine(sdioPin, gpiocdev.AsInput, gpiocdev.WithConsumer("si4703-sdio"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request SDIO pin %d: %w", sdioPin, err)
	}

	scl, err := chip.RequestLine(sclkPin, gpiocdev.AsInput, gpiocdev.WithConsumer("si4703-sclk"))
	if err != nil {
		sda.Close()
		chip.Close()
		return nil, fmt.Errorf("failed to request SCLK pin %d: %w", sclkPin, err)
	}

	return &GPIOWire{chip: chip, sda: sda, scl: scl, half: half}, nil
}

func (w *GPIOWire) release(l *gpiocdev.Line) error {
	return l.Reconfigure(gpiocdev.AsInput)
}

func (w *GPIOWire) pull(l *gpiocdev.Line) error {
	return l.Reconfigure(gpiocdev.AsOutput(0))
}

func (w *GPIOWire) set(l *gpiocdev.Line, high bool) error {
	if high {
		return w.release(l)
	}
	return w.pull(l)
}

func (w *GPIOWire) delay() {
	time.Sleep(w.half)
}

// clock raises SCL, samples SDA and lowers SCL again.
func (w *GPIOWire) clock() (int, error) {
	if err := w.release(w.scl); err != nil {
		return 0, err
	}
	w.delay()
	v, err := w.sda.Value()
	if err != nil {
		return 0, err
	}
	if err := w.pull(w.scl); err != nil {
		return 0, err
	}
	w.delay()
	return v, nil
}

// Start issues a START: SDA falls while SCL is high.
func (w *GPIOWire) Start() error {
	if err := w.release(w.sda); err != nil {
		return err
	}
	if err := w.release(w.scl); err != nil {
		return err
	}
	w.delay()
	if err := w.pull(w.sda); err != nil {
		return err
	}
	w.delay()
	return w.pull(w.scl)
}

// Send shifts out one byte MSB first and samples the slave's acknowledge.
func (w *GPIOWire) Send(b byte) (bool, error) {
	for i := 7; i >= 0; i-- {
		if err := w.set(w.sda, b&(1<<uint(i)) != 0); err != nil {
			return false, err
		}
		if _, err := w.clock(); err != nil {
			return false, err
		}
	}

	if err := w.release(w.sda); err != nil {
		return false, err
	}
	v, err := w.clock()
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// Recv shifts in one byte MSB first, then acknowledges it or not.
func (w *GPIOWire) Recv(ack bool) (byte, error) {
	if err := w.release(w.sda); err != nil {
		return 0, err
	}

	var b byte
	for i := 0; i < 8; i++ {
		v, err := w.clock()
		if err != nil {
			return 0, err
		}
		b = b<<1 | byte(v&1)
	}

	if err := w.set(w.sda, !ack); err != nil {
		return 0, err
	}
	if _, err := w.clock(); err != nil {
		return 0, err
	}
	return b, w.release(w.sda)
}

// Stop issues a STOP: SDA rises while SCL is high.
func (w *GPIOWire) Stop() error {
	if err := w.pull(w.sda); err != nil {
		return err
	}
	if err := w.release(w.scl); err != nil {
		return err
	}
	w.delay()
	return w.release(w.sda)
}

// Close releases both lines and the chip.
func (w *GPIOWire) Close() error {
	var errs []error
	for _, l := range []*gpiocdev.Line{w.sda, w.scl} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.sda, w.scl = nil, nil
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		w.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing GPIO wire: %v", errs)
	}
	return nil
}
