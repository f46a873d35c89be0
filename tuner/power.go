package tuner

import (
	"context"
	"time"
)

// Settle times required by the chip after each power step.
const (
	OscillatorSettle = 500 * time.Millisecond
	PowerUpSettle    = 110 * time.Millisecond
	PowerDownSettle  = 2 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PowerSequencer runs the oscillator and device enable sequences. It does
// not poll STC and does not read back to confirm the new state.
type PowerSequencer struct {
	Sleep SleepFunc
}

func (p PowerSequencer) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return sleepCtx(ctx, d)
	}
	return p.Sleep(ctx, d)
}

// Up enables the crystal oscillator, waits for it to settle, then enables
// the device with mute disabled.
func (p PowerSequencer) Up(ctx context.Context, bus Bus, img *Image) error {
	if err := img.SyncFrom(bus); err != nil {
		return err
	}
	t1 := img.Test1()
	t1.XOSCEN = true
	img.SetTest1(t1)
	if err := img.FlushTo(bus); err != nil {
		return err
	}
	if err := p.sleep(ctx, OscillatorSettle); err != nil {
		return err
	}

	if err := img.SyncFrom(bus); err != nil {
		return err
	}
	pc := img.PowerCfg()
	pc.Enable = true
	pc.Disable = false
	pc.DMute = true
	img.SetPowerCfg(pc)
	if err := img.FlushTo(bus); err != nil {
		return err
	}
	return p.sleep(ctx, PowerUpSettle)
}

// Down puts the audio outputs and GPIOs in high impedance, mutes, and
// writes ENABLE=1 DISABLE=1, which the chip takes as power-down.
func (p PowerSequencer) Down(ctx context.Context, bus Bus, img *Image) error {
	if err := img.SyncFrom(bus); err != nil {
		return err
	}

	t1 := img.Test1()
	t1.AHIZEN = true
	img.SetTest1(t1)

	sc1 := img.SysConfig1()
	sc1.GPIO1, sc1.GPIO2, sc1.GPIO3 = GPIOHighZ, GPIOHighZ, GPIOHighZ
	img.SetSysConfig1(sc1)

	pc := img.PowerCfg()
	pc.DMute = false
	pc.Enable = true
	pc.Disable = true
	img.SetPowerCfg(pc)

	if err := img.FlushTo(bus); err != nil {
		return err
	}
	return p.sleep(ctx, PowerDownSettle)
}
