package tuner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var testStations = []SimStation{
	{Frequency: 9000, RSSI: 10},
	{Frequency: 9410, RSSI: 40, Stereo: true},
	{Frequency: 10110, RSSI: 50},
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TuneTimeout = 200 * time.Millisecond
	cfg.SeekTimeout = 400 * time.Millisecond
	return cfg
}

func newTuner(t *testing.T, cfg Config, stations ...SimStation) (*Tuner, *SimChip) {
	t.Helper()
	sim := NewSimChip(stations...)
	tu := New(sim, cfg,
		WithSleep(noSleep),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return tu, sim
}

func startTuner(t *testing.T, stations ...SimStation) (*Tuner, *SimChip) {
	t.Helper()
	tu, sim := newTuner(t, testConfig(), stations...)
	if err := tu.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tu, sim
}

func TestStartWritesDefaults(t *testing.T) {
	tu, sim := startTuner(t)

	if tu.State() != StateIdle || !tu.Powered() {
		t.Errorf("State() = %v, want idle and powered", tu.State())
	}

	regs := sim.Registers()
	pc := regs.PowerCfg()
	if !pc.Enable || pc.Disable || !pc.DMute || !pc.DSMute || !pc.SKMode || !pc.SeekUp || pc.Seek || pc.Mono {
		t.Errorf("POWERCFG = %+v", pc)
	}
	sc1 := regs.SysConfig1()
	if !sc1.RDS || sc1.RDSIEN || sc1.STCIEN || sc1.DE || sc1.AGCD || sc1.BlendAdj != 0 {
		t.Errorf("SYSCONFIG1 = %+v", sc1)
	}
	sc2 := regs.SysConfig2()
	if sc2.SeekTh != 24 || sc2.Band != uint8(BandWide) || sc2.Space != uint8(Spacing100kHz) || sc2.Volume != 0 {
		t.Errorf("SYSCONFIG2 = %+v", sc2)
	}
	sc3 := regs.SysConfig3()
	if sc3.SKCNT != 15 || sc3.SKSNR != 15 || sc3.VolExt || sc3.SMuteA != 0 || sc3.SMuteR != 0 {
		t.Errorf("SYSCONFIG3 = %+v", sc3)
	}
	t1 := regs.Test1()
	if !t1.XOSCEN || t1.AHIZEN {
		t.Errorf("TEST1 = %+v", t1)
	}
}

func TestSetChannel(t *testing.T) {
	tests := []struct {
		name    string
		spacing Spacing
		freq    int
		want    int
	}{
		{"exact", Spacing100kHz, 10700, 10700},
		{"quantized", Spacing100kHz, 10705, 10700},
		{"above band", Spacing100kHz, 12000, 10800},
		{"below band", Spacing100kHz, 8000, 8750},
		{"lower edge", Spacing100kHz, 8750, 8750},
		{"200k step", Spacing200kHz, 10795, 10790},
		{"50k step", Spacing50kHz, 9005, 9005},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Spacing = tt.spacing
			tu, sim := newTuner(t, cfg)
			if err := tu.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			got, err := tu.SetChannel(context.Background(), tt.freq)
			if err != nil {
				t.Fatalf("SetChannel(%d): %v", tt.freq, err)
			}
			if got != tt.want {
				t.Errorf("SetChannel(%d) = %d, want %d", tt.freq, got, tt.want)
			}

			again, err := tu.SetChannel(context.Background(), got)
			if err != nil || again != got {
				t.Errorf("SetChannel(%d) again = %d, %v, want %d", got, again, err, got)
			}

			regs := sim.Registers()
			if regs.Channel().Tune {
				t.Errorf("TUNE still set after tune completed")
			}
			if regs.StatusRSSI().STC {
				t.Errorf("STC still set after tune completed")
			}
			if tu.State() != StateIdle {
				t.Errorf("State() = %v, want idle", tu.State())
			}
		})
	}
}

func TestSetChannelSlowChip(t *testing.T) {
	tu, sim := startTuner(t)
	sim.SetTuneReads(3)

	got, err := tu.SetChannel(context.Background(), 9410)
	if err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if got != 9410 {
		t.Errorf("SetChannel = %d, want 9410", got)
	}
}

func TestIncDecChannelWrap(t *testing.T) {
	tu, _ := startTuner(t)
	ctx := context.Background()

	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
		from int
		want int
	}{
		{"inc", tu.IncChannel, 10700, 10710},
		{"inc wraps", tu.IncChannel, 10800, 8750},
		{"dec", tu.DecChannel, 10700, 10690},
		{"dec wraps", tu.DecChannel, 8750, 10800},
	}

	for _, tt := range steps {
		if _, err := tu.SetChannel(ctx, tt.from); err != nil {
			t.Fatalf("SetChannel(%d): %v", tt.from, err)
		}
		got, err := tt.fn(ctx)
		if err != nil {
			t.Fatalf("%s from %d: %v", tt.name, tt.from, err)
		}
		if got != tt.want {
			t.Errorf("%s from %d = %d, want %d", tt.name, tt.from, got, tt.want)
		}
	}
}

func TestSeek(t *testing.T) {
	tu, sim := startTuner(t, testStations...)
	ctx := context.Background()

	if _, err := tu.SetChannel(ctx, 8750); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
		want int
	}{
		{"up skips weak station", tu.SeekUp, 9410},
		{"up", tu.SeekUp, 10110},
		{"up retries from bottom", tu.SeekUp, 9410},
		{"down retries from top", tu.SeekDown, 10110},
		{"down", tu.SeekDown, 9410},
	}

	for _, tt := range steps {
		got, err := tt.fn(ctx)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
		if sim.Registers().PowerCfg().Seek {
			t.Errorf("%s: SEEK still set", tt.name)
		}
	}
}

func TestSeekNoStation(t *testing.T) {
	tu, _ := startTuner(t)

	for name, fn := range map[string]func(context.Context) (int, error){
		"up":   tu.SeekUp,
		"down": tu.SeekDown,
	} {
		got, err := fn(context.Background())
		if err != nil {
			t.Fatalf("seek %s: %v", name, err)
		}
		if got != NoStation {
			t.Errorf("seek %s = %d, want %d", name, got, NoStation)
		}
	}
}

func TestSeekWrapMode(t *testing.T) {
	cfg := testConfig()
	cfg.Seek.Mode = SeekWrap
	tu, sim := newTuner(t, cfg, testStations...)
	ctx := context.Background()
	if err := tu.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sim.Registers().PowerCfg().SKMode {
		t.Fatalf("SKMODE set in wrap mode")
	}

	if _, err := tu.SetChannel(ctx, 10200); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	got, err := tu.SeekUp(ctx)
	if err != nil {
		t.Fatalf("SeekUp: %v", err)
	}
	if got != 9410 {
		t.Errorf("SeekUp = %d, want 9410 after wrapping", got)
	}
}

func TestTuneTimeout(t *testing.T) {
	tu, sim := startTuner(t)
	sim.SetStuckSTC(true)

	_, err := tu.SetChannel(context.Background(), 9410)
	if !errors.Is(err, ErrTuneTimeout) {
		t.Fatalf("SetChannel error = %v, want %v", err, ErrTuneTimeout)
	}
	if sim.Registers().Channel().Tune {
		t.Errorf("TUNE left set after timeout")
	}
	if tu.State() != StateIdle {
		t.Errorf("State() = %v, want idle", tu.State())
	}
}

func TestSeekTimeout(t *testing.T) {
	tu, sim := startTuner(t, testStations...)
	sim.SetStuckSTC(true)

	_, err := tu.SeekUp(context.Background())
	if !errors.Is(err, ErrTuneTimeout) {
		t.Fatalf("SeekUp error = %v, want %v", err, ErrTuneTimeout)
	}
	if sim.Registers().PowerCfg().Seek {
		t.Errorf("SEEK left set after timeout")
	}
}

func TestTuneWhileUnpowered(t *testing.T) {
	tu, _ := newTuner(t, testConfig())

	if tu.Powered() {
		t.Fatalf("Powered() = true before Start")
	}
	_, err := tu.SetChannel(context.Background(), 10000)
	if !errors.Is(err, ErrTuneTimeout) {
		t.Errorf("SetChannel error = %v, want %v", err, ErrTuneTimeout)
	}
}

func TestTuneCancelled(t *testing.T) {
	tu, sim := startTuner(t)
	sim.SetTuneReads(1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tu.SetChannel(ctx, 10000)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SetChannel error = %v, want %v", err, context.Canceled)
	}
}

func TestReadFailureMarksStale(t *testing.T) {
	tu, sim := startTuner(t)
	before := tu.Snapshot()

	sim.FailReads(1)
	_, err := tu.RSSI()

	var be *BusError
	if !errors.As(err, &be) || be.Phase != PhaseAddress {
		t.Fatalf("RSSI error = %v, want address phase *BusError", err)
	}
	if !errors.Is(err, ErrNack) {
		t.Errorf("error %v does not wrap ErrNack", err)
	}
	if !tu.Stale() {
		t.Errorf("Stale() = false after failed read")
	}
	if tu.Snapshot() != before {
		t.Errorf("image changed after failed read")
	}

	if _, err := tu.RSSI(); err != nil {
		t.Fatalf("RSSI: %v", err)
	}
	if tu.Stale() {
		t.Errorf("Stale() = true after successful read")
	}
}

func TestWriteFailure(t *testing.T) {
	tu, sim := startTuner(t)
	sim.FailWrites(1)

	if err := tu.SetMute(true); err == nil {
		t.Fatal("SetMute succeeded, want error")
	}
	if muted, _ := tu.Mute(); muted {
		t.Errorf("Mute() = true, want the failed write not applied")
	}
}

func TestVolume(t *testing.T) {
	tu, _ := startTuner(t)

	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{7, 7},
		{15, 15},
		{99, 15},
	}
	for _, tt := range tests {
		got, err := tu.SetVolume(tt.in)
		if err != nil {
			t.Fatalf("SetVolume(%d): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("SetVolume(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if got, _ := tu.IncVolume(); got != 15 {
		t.Errorf("IncVolume at 15 = %d, want 15", got)
	}
	if got, _ := tu.DecVolume(); got != 14 {
		t.Errorf("DecVolume = %d, want 14", got)
	}
}

func TestMute(t *testing.T) {
	tu, sim := startTuner(t)

	if muted, err := tu.Mute(); err != nil || muted {
		t.Fatalf("Mute() after start = %v, %v, want false", muted, err)
	}

	if err := tu.SetMute(true); err != nil {
		t.Fatalf("SetMute(true): %v", err)
	}
	if muted, _ := tu.Mute(); !muted {
		t.Errorf("Mute() = false after SetMute(true)")
	}
	if sim.Registers().PowerCfg().DMute {
		t.Errorf("DMUTE set while muted")
	}

	if err := tu.SetMute(false); err != nil {
		t.Fatalf("SetMute(false): %v", err)
	}
	if muted, _ := tu.Mute(); muted {
		t.Errorf("Mute() = true after SetMute(false)")
	}
}

func TestStereoAndMono(t *testing.T) {
	tu, _ := startTuner(t, testStations...)
	ctx := context.Background()

	if _, err := tu.SetChannel(ctx, 9410); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if st, _ := tu.Stereo(); !st {
		t.Errorf("Stereo() = false on stereo station")
	}
	if rssi, _ := tu.RSSI(); rssi != 40 {
		t.Errorf("RSSI() = %d, want 40", rssi)
	}

	if err := tu.SetMono(true); err != nil {
		t.Fatalf("SetMono: %v", err)
	}
	if mono, _ := tu.Mono(); !mono {
		t.Errorf("Mono() = false after SetMono(true)")
	}
	if st, _ := tu.Stereo(); st {
		t.Errorf("Stereo() = true with mono forced")
	}
}

func TestVolExt(t *testing.T) {
	tu, _ := startTuner(t)

	if err := tu.SetVolExt(true); err != nil {
		t.Fatalf("SetVolExt: %v", err)
	}
	if on, _ := tu.VolExt(); !on {
		t.Errorf("VolExt() = false after SetVolExt(true)")
	}
}

func TestSetGPIO(t *testing.T) {
	tu, sim := startTuner(t)

	if err := tu.SetGPIO(GPIO2, GPIOHigh); err != nil {
		t.Fatalf("SetGPIO: %v", err)
	}
	sc1 := sim.Registers().SysConfig1()
	if sc1.GPIO2 != GPIOHigh || sc1.GPIO1 != GPIOHighZ || sc1.GPIO3 != GPIOHighZ {
		t.Errorf("GPIOs = %d %d %d, want only GPIO2 high", sc1.GPIO1, sc1.GPIO2, sc1.GPIO3)
	}

	for _, pin := range []GPIOPin{0, 4} {
		if err := tu.SetGPIO(pin, GPIOLow); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("SetGPIO(%d) error = %v, want %v", pin, err, ErrInvalidPin)
		}
	}
}

func TestInfo(t *testing.T) {
	tu, _ := startTuner(t)

	info, err := tu.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	want := Info{PartNumber: 1, ManufacturerID: 0x242, Revision: 4, Device: 9, Firmware: 19}
	if info != want {
		t.Errorf("Info() = %+v, want %+v", info, want)
	}
}

func TestPowerDown(t *testing.T) {
	tu, sim := startTuner(t)

	if err := tu.PowerDown(context.Background()); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if tu.Powered() || tu.State() != StateUnpowered {
		t.Errorf("State() = %v, want unpowered", tu.State())
	}
	pc := sim.Registers().PowerCfg()
	if !pc.Enable || !pc.Disable {
		t.Errorf("POWERCFG = %+v, want ENABLE and DISABLE", pc)
	}

	if !sim.Registers().Test1().AHIZEN {
		t.Errorf("AHIZEN not set after power down")
	}

	if err := tu.PowerUp(context.Background()); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if sim.Registers().Test1().AHIZEN {
		t.Errorf("AHIZEN still set after power up")
	}
	if got, err := tu.SetChannel(context.Background(), 10000); err != nil || got != 10000 {
		t.Errorf("SetChannel after power cycle = %d, %v", got, err)
	}
}

func TestSetRegion(t *testing.T) {
	tu, sim := startTuner(t)

	if err := tu.SetRegion(BandJapan, Spacing50kHz, DeEmphasis50us); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	want := BandLimits{Lower: 7600, Upper: 9000, Spacing: 5}
	if got := tu.Limits(); got != want {
		t.Errorf("Limits() = %+v, want %+v", got, want)
	}
	if !sim.Registers().SysConfig1().DE {
		t.Errorf("DE not set for 50 us")
	}

	got, err := tu.SetChannel(context.Background(), 8005)
	if err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if got != 8005 {
		t.Errorf("SetChannel(8005) = %d, want 8005", got)
	}
}

func TestStatus(t *testing.T) {
	tu, _ := startTuner(t, testStations...)
	ctx := context.Background()

	if _, err := tu.SetChannel(ctx, 10110); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if _, err := tu.SetVolume(6); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}

	st, err := tu.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := Status{Frequency: 10110, RSSI: 50, Volume: 6}
	if st != want {
		t.Errorf("Status() = %+v, want %+v", st, want)
	}
}
