package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/linht/fm-tuner/tuner"
)

// hardware holds what has to be released when the server stops.
type hardware struct {
	tuner   *tuner.Tuner
	closers []io.Closer
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBus resets the chip into two-wire mode when a reset pin is wired
// and opens the configured backend.
func openBus(ctx context.Context, c TunerConfig, h *hardware) (tuner.Bus, error) {
	if c.Bus != BusSim && c.ResetPin >= 0 {
		rst, err := tuner.NewResetLines(c.GPIOChip, c.ResetPin, c.SDIOPin)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, rst)
		if err := rst.Reset(ctx); err != nil {
			return nil, fmt.Errorf("failed to reset tuner: %w", err)
		}
		slog.Info("Tuner reset into two-wire mode", "lines", rst.String())
	}

	switch c.Bus {
	case BusI2C:
		bus, err := tuner.OpenI2C(c.I2CBus, c.Address, c.I2CSpeedHz)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, bus)
		slog.Info("I2C bus opened", "bus", bus.String())
		return bus, nil

	case BusGPIO:
		wire, err := tuner.NewGPIOWire(c.GPIOChip, c.SDIOPin, c.SCLKPin, c.HalfPeriod)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, wire)
		slog.Info("GPIO two-wire bus opened", "chip", c.GPIOChip, "sdio", c.SDIOPin, "sclk", c.SCLKPin)
		return tuner.NewWireBus(wire, uint8(c.Address)), nil

	case BusSim:
		slog.Warn("Using simulated tuner", "stations", len(c.Sim.Stations))
		return tuner.NewSimChip(c.Sim.Stations...), nil
	}

	return nil, fmt.Errorf("unknown tuner bus %q (use i2c, gpio or sim)", c.Bus)
}

// startTuner opens the bus, powers the chip up and applies the startup
// channel and volume.
func startTuner(ctx context.Context, c TunerConfig) (*hardware, error) {
	settings, err := c.TunerSettings()
	if err != nil {
		return nil, err
	}

	h := &hardware{}
	bus, err := openBus(ctx, c, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	t := tuner.New(bus, settings, tuner.WithLogger(slog.Default().With("component", "tuner")))
	if err := t.Start(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to start tuner: %w", err)
	}
	h.tuner = t

	if info, err := t.Info(); err == nil {
		slog.Info("Tuner identified",
			"part", info.PartNumber,
			"manufacturer", fmt.Sprintf("0x%03X", info.ManufacturerID),
			"revision", info.Revision,
			"firmware", info.Firmware)
	}

	if c.StartFrequency > 0 {
		freq, err := t.SetChannel(ctx, c.StartFrequency)
		if err != nil {
			slog.Warn("Failed to tune startup frequency", "frequency", c.StartFrequency, "error", err)
		} else {
			slog.Info("Tuned startup frequency", "frequency", freq)
		}
	}
	if c.StartVolume >= 0 {
		if _, err := t.SetVolume(c.StartVolume); err != nil {
			slog.Warn("Failed to set startup volume", "volume", c.StartVolume, "error", err)
		}
	}

	return h, nil
}

// stopTuner powers the chip down and releases the bus.
func stopTuner(h *hardware) {
	if h.tuner != nil {
		if err := h.tuner.PowerDown(context.Background()); err != nil {
			slog.Error("Failed to power down tuner", "error", err)
		}
	}
	if err := h.Close(); err != nil {
		slog.Error("Failed to release tuner hardware", "error", err)
	}
}
