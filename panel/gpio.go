package panel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultSampleInterval is how often the panel inputs are read.
const DefaultSampleInterval = time.Millisecond

// Pins are the GPIO line offsets of the panel inputs.
type Pins struct {
	Up     int `yaml:"up"`
	Down   int `yaml:"down"`
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
	EncCLK int `yaml:"enc_clk"`
	EncDT  int `yaml:"enc_dt"`
	EncSW  int `yaml:"enc_sw"`
}

func (p Pins) offsets() []int {
	return []int{p.Up, p.Down, p.Left, p.Right, p.EncCLK, p.EncDT, p.EncSW}
}

// GPIOPanel samples the panel inputs on a GPIO chip.
type GPIOPanel struct {
	chip     *gpiocdev.Chip
	lines    *gpiocdev.Lines
	chipPath string
	pins     Pins
	interval time.Duration
	values   []int
}

// OpenGPIO claims the panel lines as inputs with pull-ups.
func OpenGPIO(chipPath string, pins Pins, interval time.Duration) (*GPIOPanel, error) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	offsets := pins.offsets()
	lines, err := chip.RequestLines(
		offsets,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithConsumer("fm-panel"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request panel pins %v: %w", offsets, err)
	}

	return &GPIOPanel{
		chip:     chip,
		lines:    lines,
		chipPath: chipPath,
		pins:     pins,
		interval: interval,
		values:   make([]int, len(offsets)),
	}, nil
}

func (p *GPIOPanel) read() (Levels, error) {
	if err := p.lines.Values(p.values); err != nil {
		return Levels{}, err
	}
	v := p.values
	return Levels{Up: v[0], Down: v[1], Left: v[2], Right: v[3], CLK: v[4], DT: v[5], SW: v[6]}, nil
}

// Run samples the panel until ctx is done and passes every event to
// handle. handle runs on the sampling goroutine.
func (p *GPIOPanel) Run(ctx context.Context, handle func(Event)) error {
	levels, err := p.read()
	if err != nil {
		return fmt.Errorf("failed to read panel: %w", err)
	}
	dec := NewDecoder(levels, time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("Panel started", "chip", p.chipPath, "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			levels, err := p.read()
			if err != nil {
				slog.Warn("Panel read failed", "error", err)
				continue
			}
			for _, ev := range dec.Sample(levels, now) {
				slog.Debug("Panel event", "event", ev)
				handle(ev)
			}
		}
	}
}

// Close releases the lines and the chip.
func (p *GPIOPanel) Close() error {
	var errs []error
	if p.lines != nil {
		if err := p.lines.Close(); err != nil {
			errs = append(errs, err)
		}
		p.lines = nil
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		p.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing panel: %v", errs)
	}
	return nil
}

func (p *GPIOPanel) String() string {
	return fmt.Sprintf("GPIO: %s, Pins: %+v", p.chipPath, p.pins)
}
