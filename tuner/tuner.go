package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrTuneTimeout is returned when STC does not change within the
	// configured bound. The chip would otherwise be polled forever.
	ErrTuneTimeout = errors.New("seek/tune did not complete")

	// ErrInvalidPin is returned for a GPIO pin other than 1, 2 or 3.
	ErrInvalidPin = errors.New("invalid GPIO pin")
)

// NoStation is the frequency reported by a seek that found nothing.
const NoStation = 0

// Default timing
const (
	DefaultPollInterval = 40 * time.Millisecond
	DefaultTuneTimeout  = time.Second
	DefaultSeekTimeout  = 40 * time.Second
)

// SeekMode selects what a seek does at the band edge.
type SeekMode uint8

// Seek modes
const (
	SeekWrap SeekMode = 0 // continue from the other band edge
	SeekStop SeekMode = 1 // stop at the band edge and report SF/BL
)

// SeekParams are the seek qualifiers written once at start-up.
type SeekParams struct {
	Mode             SeekMode
	RSSIThreshold    uint8 // SEEKTH
	ImpulseThreshold uint8 // SKCNT, 4 bits: 0 disabled, 1 most stops, 15 fewest
	SNRThreshold     uint8 // SKSNR, 4 bits: 0 disabled, 1 most stops, 15 fewest
	AGCDisable       bool
}

// Config is the tuner configuration.
type Config struct {
	Band       Band
	Spacing    Spacing
	DeEmphasis DeEmphasis
	Seek       SeekParams

	PollInterval time.Duration // STC polling period
	TuneTimeout  time.Duration // bound for a tune and for STC to clear
	SeekTimeout  time.Duration // bound for a seek across the band
}

// DefaultConfig returns the wide band at 100 kHz spacing, stop-at-edge
// seeking and the datasheet's recommended seek thresholds.
func DefaultConfig() Config {
	return Config{
		Band:       BandWide,
		Spacing:    Spacing100kHz,
		DeEmphasis: DeEmphasis75us,
		Seek: SeekParams{
			Mode:             SeekStop,
			RSSIThreshold:    24,
			ImpulseThreshold: 15,
			SNRThreshold:     15,
		},
		PollInterval: DefaultPollInterval,
		TuneTimeout:  DefaultTuneTimeout,
		SeekTimeout:  DefaultSeekTimeout,
	}
}

// State is the tuner lifecycle and operation state.
type State int

// Tuner states
const (
	StateUnpowered State = iota
	StatePowering
	StateIdle
	StateTuning
	StateSeeking
)

func (s State) String() string {
	switch s {
	case StateUnpowered:
		return "unpowered"
	case StatePowering:
		return "powering"
	case StateIdle:
		return "idle"
	case StateTuning:
		return "tuning"
	case StateSeeking:
		return "seeking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GPIOPin is one of the chip's three GPIO pins.
type GPIOPin int

// GPIO pins
const (
	GPIO1 GPIOPin = 1
	GPIO2 GPIOPin = 2
	GPIO3 GPIOPin = 3
)

// Info identifies the chip.
type Info struct {
	PartNumber     uint8  `json:"part_number"`
	ManufacturerID uint16 `json:"manufacturer_id"`
	Revision       uint8  `json:"revision"`
	Device         uint8  `json:"device"`
	Firmware       uint8  `json:"firmware"`
}

// Status is a single-read view of the tuner for displays.
type Status struct {
	Frequency int  `json:"frequency"`
	RSSI      int  `json:"rssi"`
	Stereo    bool `json:"stereo"`
	Volume    int  `json:"volume"`
	Muted     bool `json:"muted"`
	Mono      bool `json:"mono"`
	VolExt    bool `json:"volext"`
}

// Tuner controls one Si4703. It owns the bus and the register image and is
// not safe for concurrent use; tune and seek block until the chip reports
// completion, the timeout expires or ctx is done.
type Tuner struct {
	bus    Bus
	cfg    Config
	img    Image
	limits BandLimits
	power  PowerSequencer
	sleep  SleepFunc
	log    *slog.Logger
	state  State
	stale  bool
}

// Option customizes a Tuner.
type Option func(*Tuner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tuner) {
		t.log = l
	}
}

// WithSleep replaces the wait used between polls and for settle delays.
func WithSleep(fn SleepFunc) Option {
	return func(t *Tuner) {
		t.sleep = fn
		t.power.Sleep = fn
	}
}

// New returns a tuner for the device on bus. Nothing is sent to the device
// until Start or PowerUp.
func New(bus Bus, cfg Config, opts ...Option) *Tuner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TuneTimeout <= 0 {
		cfg.TuneTimeout = DefaultTuneTimeout
	}
	if cfg.SeekTimeout <= 0 {
		cfg.SeekTimeout = DefaultSeekTimeout
	}

	t := &Tuner{
		bus:    bus,
		cfg:    cfg,
		limits: LimitsFor(DefaultLimits, cfg.Band, cfg.Spacing),
		sleep:  sleepCtx,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Limits returns the current band limits.
func (t *Tuner) Limits() BandLimits {
	return t.limits
}

// State returns the current state.
func (t *Tuner) State() State {
	return t.state
}

// Powered reports whether the last power sequence was a successful power-up.
func (t *Tuner) Powered() bool {
	return t.state != StateUnpowered && t.state != StatePowering
}

// Stale reports whether the last read of the device failed, leaving the
// cached image older than the device.
func (t *Tuner) Stale() bool {
	return t.stale
}

// Snapshot returns the cached register image without touching the bus.
func (t *Tuner) Snapshot() Image {
	return t.img
}

func (t *Tuner) sync() error {
	if err := t.img.SyncFrom(t.bus); err != nil {
		if !t.stale {
			t.log.Warn("Register read failed, cache is stale", "error", err)
		}
		t.stale = true
		return err
	}
	t.stale = false
	return nil
}

func (t *Tuner) flush() error {
	return t.img.FlushTo(t.bus)
}

// update is a read-modify-write of the control registers.
func (t *Tuner) update(fn func(img *Image)) error {
	if err := t.sync(); err != nil {
		return err
	}
	fn(&t.img)
	return t.flush()
}

// Start powers the chip up and writes the default configuration.
func (t *Tuner) Start(ctx context.Context) error {
	if err := t.PowerUp(ctx); err != nil {
		return err
	}

	cfg := t.cfg
	err := t.update(func(img *Image) {
		sc1 := img.SysConfig1()
		sc1.DE = cfg.DeEmphasis == DeEmphasis50us
		sc1.STCIEN = false
		sc1.AGCD = cfg.Seek.AGCDisable
		sc1.RDSIEN = false
		sc1.RDS = true
		sc1.BlendAdj = 0 // 31-49 dBuV
		sc1.GPIO1, sc1.GPIO2, sc1.GPIO3 = GPIOHighZ, GPIOHighZ, GPIOHighZ
		img.SetSysConfig1(sc1)

		sc2 := img.SysConfig2()
		sc2.Band = uint8(cfg.Band)
		sc2.Space = uint8(cfg.Spacing)
		sc2.SeekTh = cfg.Seek.RSSIThreshold
		sc2.Volume = 0
		img.SetSysConfig2(sc2)

		sc3 := img.SysConfig3()
		sc3.SKCNT = cfg.Seek.ImpulseThreshold & 0x0F
		sc3.SKSNR = cfg.Seek.SNRThreshold & 0x0F
		sc3.VolExt = false
		sc3.SMuteA = 0 // 16 dB
		sc3.SMuteR = 0 // fastest
		img.SetSysConfig3(sc3)

		pc := img.PowerCfg()
		pc.Seek = false
		pc.SeekUp = true
		pc.SKMode = cfg.Seek.Mode == SeekStop
		pc.RDSM = false
		pc.Mono = false
		pc.DSMute = true
		img.SetPowerCfg(pc)

		t1 := img.Test1()
		t1.AHIZEN = false
		img.SetTest1(t1)
	})
	if err != nil {
		return fmt.Errorf("failed to write start configuration: %w", err)
	}

	t.log.Info("Tuner started", "band", t.limits.String(), "seek_mode", cfg.Seek.Mode, "seek_threshold", cfg.Seek.RSSIThreshold)
	return nil
}

// PowerUp runs the oscillator and device enable sequence.
func (t *Tuner) PowerUp(ctx context.Context) error {
	t.state = StatePowering
	if err := t.power.Up(ctx, t.bus, &t.img); err != nil {
		t.state = StateUnpowered
		return fmt.Errorf("power up: %w", err)
	}

	// Power-down leaves the audio outputs in high impedance.
	err := t.update(func(img *Image) {
		t1 := img.Test1()
		t1.AHIZEN = false
		img.SetTest1(t1)
	})
	if err != nil {
		t.state = StateUnpowered
		return fmt.Errorf("power up: %w", err)
	}
	t.state = StateIdle
	t.log.Debug("Tuner powered up")
	return nil
}

// PowerDown runs the shutdown sequence.
func (t *Tuner) PowerDown(ctx context.Context) error {
	if err := t.power.Down(ctx, t.bus, &t.img); err != nil {
		return fmt.Errorf("power down: %w", err)
	}
	t.state = StateUnpowered
	t.log.Debug("Tuner powered down")
	return nil
}

// SetRegion re-derives the band limits and writes band, spacing and
// de-emphasis to the chip.
func (t *Tuner) SetRegion(band Band, spacing Spacing, de DeEmphasis) error {
	err := t.update(func(img *Image) {
		sc2 := img.SysConfig2()
		sc2.Band = uint8(band)
		sc2.Space = uint8(spacing)
		img.SetSysConfig2(sc2)

		sc1 := img.SysConfig1()
		sc1.DE = de == DeEmphasis50us
		img.SetSysConfig1(sc1)
	})
	if err != nil {
		return err
	}

	t.cfg.Band, t.cfg.Spacing, t.cfg.DeEmphasis = band, spacing, de
	t.limits = LimitsFor(t.limits, band, spacing)
	return nil
}

// Channel returns the frequency the chip is tuned to.
func (t *Tuner) Channel() (int, error) {
	if err := t.sync(); err != nil {
		return 0, err
	}
	return t.limits.FrequencyOf(t.img.ReadChan().ReadChan), nil
}

// SetChannel tunes to freq, clamped to the band, and returns the frequency
// the chip settled on. Channel quantization can make it differ from freq.
func (t *Tuner) SetChannel(ctx context.Context, freq int) (int, error) {
	freq = t.limits.Clamp(freq)
	ch := t.limits.ChannelOf(freq)

	err := t.update(func(img *Image) {
		c := img.Channel()
		c.Chan = ch
		c.Tune = true
		img.SetChannel(c)
	})
	if err != nil {
		return 0, err
	}

	defer t.enter(StateTuning)()
	t.log.Debug("Tune started", "frequency", freq, "channel", ch)

	_, err = t.finish(ctx, "tune", t.cfg.TuneTimeout, func(img *Image) {
		c := img.Channel()
		c.Tune = false
		img.SetChannel(c)
	})
	if err != nil {
		return 0, err
	}

	return t.Channel()
}

// IncChannel tunes one step up, wrapping from the top of the band to the
// bottom.
func (t *Tuner) IncChannel(ctx context.Context) (int, error) {
	freq, err := t.Channel()
	if err != nil {
		return 0, err
	}
	freq += t.limits.Spacing
	if freq > t.limits.Upper {
		freq = t.limits.Lower
	}
	return t.SetChannel(ctx, freq)
}

// DecChannel tunes one step down, wrapping from the bottom of the band to
// the top.
func (t *Tuner) DecChannel(ctx context.Context) (int, error) {
	freq, err := t.Channel()
	if err != nil {
		return 0, err
	}
	freq -= t.limits.Spacing
	if freq < t.limits.Lower {
		freq = t.limits.Upper
	}
	return t.SetChannel(ctx, freq)
}

// SeekUp seeks to the next station above the current one. If the seek
// fails it tunes to the bottom of the band and seeks once more. It returns
// NoStation when both attempts fail.
func (t *Tuner) SeekUp(ctx context.Context) (int, error) {
	return t.seekRetry(ctx, true)
}

// SeekDown is SeekUp in the other direction, retrying from the top of the
// band.
func (t *Tuner) SeekDown(ctx context.Context) (int, error) {
	return t.seekRetry(ctx, false)
}

func (t *Tuner) seekRetry(ctx context.Context, up bool) (int, error) {
	freq, err := t.seek(ctx, up)
	if err != nil || freq != NoStation {
		return freq, err
	}

	edge := t.limits.Upper
	if up {
		edge = t.limits.Lower
	}
	t.log.Debug("Seek hit band limit, retrying from opposite edge", "edge", edge, "up", up)
	if _, err := t.SetChannel(ctx, edge); err != nil {
		return 0, err
	}
	return t.seek(ctx, up)
}

// seek runs one seek. SF/BL is read before SEEK is cleared.
func (t *Tuner) seek(ctx context.Context, up bool) (int, error) {
	err := t.update(func(img *Image) {
		pc := img.PowerCfg()
		pc.SeekUp = up
		pc.Seek = true
		img.SetPowerCfg(pc)
	})
	if err != nil {
		return 0, err
	}

	defer t.enter(StateSeeking)()
	t.log.Debug("Seek started", "up", up)

	status, err := t.finish(ctx, "seek", t.cfg.SeekTimeout, func(img *Image) {
		pc := img.PowerCfg()
		pc.Seek = false
		img.SetPowerCfg(pc)
	})
	if err != nil {
		return 0, err
	}
	if status.SFBL {
		return NoStation, nil
	}
	return t.Channel()
}

// enter switches to s and returns a func restoring the previous state.
func (t *Tuner) enter(s State) func() {
	prev := t.state
	t.state = s
	return func() { t.state = prev }
}

// finish completes a tune or seek: wait for STC, then in one
// read-modify-write capture the status and drop the start bit, then wait
// for the chip to clear STC.
func (t *Tuner) finish(ctx context.Context, op string, timeout time.Duration, stop func(img *Image)) (StatusRSSI, error) {
	if err := t.waitSTC(ctx, true, timeout); err != nil {
		t.abort(op, stop)
		return StatusRSSI{}, fmt.Errorf("%s: %w", op, err)
	}

	var status StatusRSSI
	err := t.update(func(img *Image) {
		status = img.StatusRSSI()
		stop(img)
	})
	if err != nil {
		return status, fmt.Errorf("%s: %w", op, err)
	}

	if err := t.waitSTC(ctx, false, t.cfg.TuneTimeout); err != nil {
		return status, fmt.Errorf("%s: %w", op, err)
	}
	return status, nil
}

// abort drops the start bit after a failed wait so the chip is not left
// mid-operation.
func (t *Tuner) abort(op string, stop func(img *Image)) {
	if err := t.update(stop); err != nil {
		t.log.Warn("Failed to clear start bit", "op", op, "error", err)
	}
}

// waitSTC polls STATUSRSSI until STC equals want.
func (t *Tuner) waitSTC(ctx context.Context, want bool, timeout time.Duration) error {
	polls := int(timeout / t.cfg.PollInterval)
	if polls < 1 {
		polls = 1
	}

	for i := 0; ; i++ {
		if err := t.sync(); err != nil {
			return err
		}
		if t.img.StatusRSSI().STC == want {
			return nil
		}
		if i >= polls {
			t.log.Warn("STC wait timed out", "want", want, "timeout", timeout)
			return fmt.Errorf("%w: STC=%t not seen within %s", ErrTuneTimeout, want, timeout)
		}
		if err := t.sleep(ctx, t.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// RSSI returns the received signal strength, 0-255.
func (t *Tuner) RSSI() (int, error) {
	if err := t.sync(); err != nil {
		return 0, err
	}
	return int(t.img.StatusRSSI().RSSI), nil
}

// Stereo reports whether the chip is receiving in stereo.
func (t *Tuner) Stereo() (bool, error) {
	if err := t.sync(); err != nil {
		return false, err
	}
	return t.img.StatusRSSI().ST, nil
}

// Mute reports whether audio is muted.
func (t *Tuner) Mute() (bool, error) {
	if err := t.sync(); err != nil {
		return false, err
	}
	return !t.img.PowerCfg().DMute, nil
}

// SetMute mutes or unmutes the audio output.
func (t *Tuner) SetMute(mute bool) error {
	return t.update(func(img *Image) {
		pc := img.PowerCfg()
		pc.DMute = !mute
		img.SetPowerCfg(pc)
	})
}

// Mono reports whether mono is forced.
func (t *Tuner) Mono() (bool, error) {
	if err := t.sync(); err != nil {
		return false, err
	}
	return t.img.PowerCfg().Mono, nil
}

// SetMono forces mono reception on or off.
func (t *Tuner) SetMono(mono bool) error {
	return t.update(func(img *Image) {
		pc := img.PowerCfg()
		pc.Mono = mono
		img.SetPowerCfg(pc)
	})
}

// VolExt reports whether the extended (attenuated) volume range is on.
func (t *Tuner) VolExt() (bool, error) {
	if err := t.sync(); err != nil {
		return false, err
	}
	return t.img.SysConfig3().VolExt, nil
}

// SetVolExt switches the extended volume range.
func (t *Tuner) SetVolExt(on bool) error {
	return t.update(func(img *Image) {
		sc3 := img.SysConfig3()
		sc3.VolExt = on
		img.SetSysConfig3(sc3)
	})
}

// Volume returns the volume, 0-15.
func (t *Tuner) Volume() (int, error) {
	if err := t.sync(); err != nil {
		return 0, err
	}
	return int(t.img.SysConfig2().Volume), nil
}

// SetVolume sets the volume clamped to 0-15 and returns the value read
// back from the chip.
func (t *Tuner) SetVolume(volume int) (int, error) {
	if volume < 0 {
		volume = 0
	}
	if volume > 15 {
		volume = 15
	}

	err := t.update(func(img *Image) {
		sc2 := img.SysConfig2()
		sc2.Volume = uint8(volume)
		img.SetSysConfig2(sc2)
	})
	if err != nil {
		return 0, err
	}
	return t.Volume()
}

// IncVolume raises the volume by one step.
func (t *Tuner) IncVolume() (int, error) {
	v, err := t.Volume()
	if err != nil {
		return 0, err
	}
	return t.SetVolume(v + 1)
}

// DecVolume lowers the volume by one step.
func (t *Tuner) DecVolume() (int, error) {
	v, err := t.Volume()
	if err != nil {
		return 0, err
	}
	return t.SetVolume(v - 1)
}

// SetGPIO sets the state of one of the chip's GPIO pins.
func (t *Tuner) SetGPIO(pin GPIOPin, mode GPIOMode) error {
	if pin < GPIO1 || pin > GPIO3 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return t.update(func(img *Image) {
		sc1 := img.SysConfig1()
		switch pin {
		case GPIO1:
			sc1.GPIO1 = mode & 0b11
		case GPIO2:
			sc1.GPIO2 = mode & 0b11
		case GPIO3:
			sc1.GPIO3 = mode & 0b11
		}
		img.SetSysConfig1(sc1)
	})
}

// Info reads the identification registers.
func (t *Tuner) Info() (Info, error) {
	if err := t.sync(); err != nil {
		return Info{}, err
	}
	dev, chip := t.img.DeviceID(), t.img.ChipID()
	return Info{
		PartNumber:     dev.PN,
		ManufacturerID: dev.MFGID,
		Revision:       chip.Rev,
		Device:         chip.Dev,
		Firmware:       chip.Firmware,
	}, nil
}

// Registers reads the whole register file.
func (t *Tuner) Registers() (Image, error) {
	if err := t.sync(); err != nil {
		return Image{}, err
	}
	return t.img, nil
}

// Status reads the device once and returns what a display shows.
func (t *Tuner) Status() (Status, error) {
	if err := t.sync(); err != nil {
		return Status{}, err
	}
	st, pc := t.img.StatusRSSI(), t.img.PowerCfg()
	return Status{
		Frequency: t.limits.FrequencyOf(t.img.ReadChan().ReadChan),
		RSSI:      int(st.RSSI),
		Stereo:    st.ST,
		Volume:    int(t.img.SysConfig2().Volume),
		Muted:     !pc.DMute,
		Mono:      pc.Mono,
		VolExt:    t.img.SysConfig3().VolExt,
	}, nil
}
