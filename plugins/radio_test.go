package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/tuner"
)

var testStations = []tuner.SimStation{
	{Frequency: 9410, RSSI: 40, Stereo: true},
	{Frequency: 10110, RSSI: 50},
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

type testRadio struct {
	plugin *RadioPlugin
	sim    *tuner.SimChip
	tuner  *tuner.Tuner
	app    *fiber.App
	path   string
}

func newTestRadio(t *testing.T, stations ...tuner.SimStation) *testRadio {
	t.Helper()

	sim := tuner.NewSimChip(stations...)
	tu := tuner.New(sim, tuner.DefaultConfig(), tuner.WithSleep(noSleep))
	if err := tu.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	path := filepath.Join(t.TempDir(), "presets.yaml")
	p, err := NewRadioPlugin(RadioConfig{Tuner: tu, PresetsPath: path})
	if err != nil {
		t.Fatalf("NewRadioPlugin: %v", err)
	}
	t.Cleanup(func() { p.Shutdown() })

	app := fiber.New()
	p.RegisterRoutes(app)

	return &testRadio{plugin: p, sim: sim, tuner: tu, app: app, path: path}
}

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends a request and decodes the response data into out if non-nil.
func (r *testRadio) do(t *testing.T, method, path, body string, out interface{}) (int, testResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var res testResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	if out != nil && res.Success {
		if err := json.Unmarshal(res.Data, out); err != nil {
			t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return resp.StatusCode, res
}

type freqData struct {
	Frequency int  `json:"frequency"`
	Found     bool `json:"found"`
}

type volumeData struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

func TestChannelRoutes(t *testing.T) {
	r := newTestRadio(t, testStations...)

	var got freqData
	code, res := r.do(t, "POST", "/api/radio/channel", `{"frequency": 9410}`, &got)
	if code != 200 || !res.Success || got.Frequency != 9410 {
		t.Fatalf("POST /channel = %d %+v %+v", code, res, got)
	}

	code, _ = r.do(t, "GET", "/api/radio/channel", "", &got)
	if code != 200 || got.Frequency != 9410 {
		t.Errorf("GET /channel = %d, frequency %d, want 9410", code, got.Frequency)
	}

	r.do(t, "POST", "/api/radio/channel", `{"frequency": 12000}`, &got)
	if got.Frequency != 10800 {
		t.Errorf("POST /channel 12000 tuned to %d, want 10800", got.Frequency)
	}

	r.do(t, "POST", "/api/radio/channel/up", "", &got)
	if got.Frequency != 8750 {
		t.Errorf("POST /channel/up from top = %d, want 8750", got.Frequency)
	}
	r.do(t, "POST", "/api/radio/channel/down", "", &got)
	if got.Frequency != 10800 {
		t.Errorf("POST /channel/down from bottom = %d, want 10800", got.Frequency)
	}

	for _, body := range []string{`{"frequency": 0}`, `not json`} {
		if code, res := r.do(t, "POST", "/api/radio/channel", body, nil); code != 400 || res.Success {
			t.Errorf("POST /channel %s = %d, want 400", body, code)
		}
	}
}

func TestSeekRoutes(t *testing.T) {
	r := newTestRadio(t, testStations...)

	r.do(t, "POST", "/api/radio/channel", `{"frequency": 9000}`, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/radio/seek/up", 9410},
		{"/api/radio/seek/up", 10110},
		{"/api/radio/seek/down", 9410},
	}
	for _, tt := range tests {
		var got freqData
		code, _ := r.do(t, "POST", tt.path, "", &got)
		if code != 200 || !got.Found || got.Frequency != tt.want {
			t.Errorf("POST %s = %d %+v, want %d found", tt.path, code, got, tt.want)
		}
	}
}

func TestSeekNoStationRoute(t *testing.T) {
	r := newTestRadio(t)

	var got freqData
	code, res := r.do(t, "POST", "/api/radio/seek/up", "", &got)
	if code != 200 || got.Found || got.Frequency != tuner.NoStation {
		t.Errorf("POST /seek/up = %d %+v", code, got)
	}
	if res.Message != "No station found" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestTuneTimeoutRoute(t *testing.T) {
	r := newTestRadio(t)
	r.sim.SetStuckSTC(true)

	code, res := r.do(t, "POST", "/api/radio/channel", `{"frequency": 9410}`, nil)
	if code != 504 || res.Success {
		t.Errorf("POST /channel with stuck STC = %d %+v, want 504", code, res)
	}
}

func TestBusErrorRoute(t *testing.T) {
	r := newTestRadio(t)
	r.sim.FailReads(1)

	code, res := r.do(t, "GET", "/api/radio/channel", "", nil)
	if code != 502 || res.Success || res.Error == "" {
		t.Errorf("GET /channel with failing bus = %d %+v, want 502", code, res)
	}
}

func TestVolumeRoutes(t *testing.T) {
	r := newTestRadio(t)

	var got volumeData
	r.do(t, "POST", "/api/radio/volume", `{"volume": 20}`, &got)
	if got.Volume != 15 {
		t.Errorf("POST /volume 20 = %d, want 15", got.Volume)
	}
	r.do(t, "POST", "/api/radio/volume/up", "", &got)
	if got.Volume != 15 {
		t.Errorf("POST /volume/up at max = %d, want 15", got.Volume)
	}
	r.do(t, "POST", "/api/radio/volume/down", "", &got)
	if got.Volume != 14 {
		t.Errorf("POST /volume/down = %d, want 14", got.Volume)
	}

	if code, _ := r.do(t, "POST", "/api/radio/volume", `{}`, nil); code != 400 {
		t.Errorf("POST /volume without volume = %d, want 400", code)
	}

	r.do(t, "GET", "/api/radio/volume", "", &got)
	if got.Volume != 14 || got.Muted {
		t.Errorf("GET /volume = %+v, want 14 unmuted", got)
	}

	if code, _ := r.do(t, "POST", "/api/radio/mute", `{"mute": true}`, nil); code != 200 {
		t.Fatalf("POST /mute = %d", code)
	}
	r.do(t, "GET", "/api/radio/volume", "", &got)
	if !got.Muted {
		t.Errorf("GET /volume after mute: muted = false")
	}
	if r.sim.Registers().PowerCfg().DMute {
		t.Errorf("DMUTE set while muted")
	}

	if code, _ := r.do(t, "POST", "/api/radio/mute", `{}`, nil); code != 400 {
		t.Errorf("POST /mute without mute = %d, want 400", code)
	}
}

func TestMonoAndVolExtRoutes(t *testing.T) {
	r := newTestRadio(t)

	r.do(t, "POST", "/api/radio/mono", `{"mono": true}`, nil)
	if !r.sim.Registers().PowerCfg().Mono {
		t.Errorf("MONO not set")
	}
	r.do(t, "POST", "/api/radio/volext", `{"volext": true}`, nil)
	if !r.sim.Registers().SysConfig3().VolExt {
		t.Errorf("VOLEXT not set")
	}
}

func TestGPIORoute(t *testing.T) {
	r := newTestRadio(t)

	tests := []struct {
		body string
		code int
	}{
		{`{"pin": 2, "mode": "low"}`, 200},
		{`{"pin": 2, "mode": "sideways"}`, 400},
		{`{"pin": 4, "mode": "high"}`, 400},
	}
	for _, tt := range tests {
		if code, _ := r.do(t, "POST", "/api/radio/gpio", tt.body, nil); code != tt.code {
			t.Errorf("POST /gpio %s = %d, want %d", tt.body, code, tt.code)
		}
	}

	if got := r.sim.Registers().SysConfig1().GPIO2; got != tuner.GPIOLow {
		t.Errorf("GPIO2 = %d, want %d", got, tuner.GPIOLow)
	}
}

func TestPowerRoute(t *testing.T) {
	r := newTestRadio(t)

	if code, _ := r.do(t, "POST", "/api/radio/power", `{"on": false}`, nil); code != 200 {
		t.Fatalf("POST /power off = %d", code)
	}
	if r.tuner.Powered() {
		t.Fatalf("tuner still powered")
	}

	var st StatusMessage
	r.do(t, "GET", "/api/radio/status", "", &st)
	if st.Powered || st.State != "unpowered" {
		t.Errorf("status after power off = %+v", st)
	}

	if code, _ := r.do(t, "POST", "/api/radio/channel", `{"frequency": 9410}`, nil); code != 504 {
		t.Errorf("POST /channel while off = %d, want 504", code)
	}

	r.do(t, "POST", "/api/radio/power", `{"on": true}`, nil)
	if !r.tuner.Powered() {
		t.Errorf("tuner not powered after power on")
	}
}

func TestRegionRoute(t *testing.T) {
	r := newTestRadio(t)

	var got struct {
		Limits tuner.BandLimits `json:"limits"`
	}
	code, _ := r.do(t, "POST", "/api/radio/region", `{"band": 2, "spacing": 1, "de_emphasis": 1}`, &got)
	want := tuner.BandLimits{Lower: 7600, Upper: 9000, Spacing: 10}
	if code != 200 || got.Limits != want {
		t.Errorf("POST /region = %d %+v, want %+v", code, got.Limits, want)
	}

	for _, body := range []string{`{"band": 3}`, `{"spacing": 3}`, `{"de_emphasis": 2}`} {
		if code, _ := r.do(t, "POST", "/api/radio/region", body, nil); code != 400 {
			t.Errorf("POST /region %s = %d, want 400", body, code)
		}
	}
}

func TestStatusAndInfoRoutes(t *testing.T) {
	r := newTestRadio(t, testStations...)
	r.do(t, "POST", "/api/radio/channel", `{"frequency": 9410}`, nil)

	var st StatusMessage
	code, _ := r.do(t, "GET", "/api/radio/status", "", &st)
	if code != 200 || st.Status == nil {
		t.Fatalf("GET /status = %d %+v", code, st)
	}
	if st.Status.Frequency != 9410 || !st.Status.Stereo || st.State != "idle" || st.Mode != "volume" {
		t.Errorf("status = %+v %+v", st, *st.Status)
	}

	var info struct {
		Device tuner.Info `json:"device"`
	}
	r.do(t, "GET", "/api/radio/info", "", &info)
	if info.Device.PartNumber != 1 || info.Device.ManufacturerID != 0x242 || info.Device.Firmware != 19 {
		t.Errorf("info = %+v", info.Device)
	}

	var regs struct {
		Registers []struct {
			Address  string `json:"address"`
			Value    string `json:"value"`
			Writable bool   `json:"writable"`
		} `json:"registers"`
		Count int `json:"count"`
	}
	r.do(t, "GET", "/api/radio/registers", "", &regs)
	if regs.Count != tuner.NumRegs || len(regs.Registers) != tuner.NumRegs {
		t.Fatalf("registers count = %d", regs.Count)
	}
	if regs.Registers[0].Value != "0x1242" || regs.Registers[0].Writable {
		t.Errorf("register 0x00 = %+v", regs.Registers[0])
	}
	if regs.Registers[2].Address != "0x02" || !regs.Registers[2].Writable {
		t.Errorf("register 0x02 = %+v", regs.Registers[2])
	}
}

func TestPresetRoutes(t *testing.T) {
	r := newTestRadio(t, testStations...)
	r.do(t, "POST", "/api/radio/channel", `{"frequency": 10110}`, nil)

	var saved Preset
	code, _ := r.do(t, "POST", "/api/radio/presets", `{"name": "news"}`, &saved)
	if code != 200 || saved.Frequency != 10110 {
		t.Errorf("POST /presets without frequency = %d %+v, want current 10110", code, saved)
	}
	r.do(t, "POST", "/api/radio/presets", `{"name": "jazz", "frequency": 9410}`, nil)

	if code, _ := r.do(t, "POST", "/api/radio/presets", `{"frequency": 9410}`, nil); code != 400 {
		t.Errorf("POST /presets without name = %d, want 400", code)
	}

	var got freqData
	r.do(t, "POST", "/api/radio/presets/jazz/tune", "", &got)
	if got.Frequency != 9410 {
		t.Errorf("tune preset jazz = %d, want 9410", got.Frequency)
	}
	if code, _ := r.do(t, "POST", "/api/radio/presets/rock/tune", "", nil); code != 404 {
		t.Errorf("tune unknown preset = %d, want 404", code)
	}

	if code, _ := r.do(t, "DELETE", "/api/radio/presets/news", "", nil); code != 200 {
		t.Errorf("DELETE /presets/news = %d", code)
	}
	if code, _ := r.do(t, "DELETE", "/api/radio/presets/news", "", nil); code != 404 {
		t.Errorf("DELETE /presets/news twice = %d, want 404", code)
	}

	var list struct {
		Presets []Preset `json:"presets"`
	}
	r.do(t, "GET", "/api/radio/presets", "", &list)
	if len(list.Presets) != 1 || list.Presets[0] != (Preset{Name: "jazz", Frequency: 9410}) {
		t.Errorf("presets = %+v", list.Presets)
	}

	reloaded, err := NewPresetStore(r.path)
	if err != nil {
		t.Fatalf("NewPresetStore: %v", err)
	}
	if freq, err := reloaded.Get("jazz"); err != nil || freq != 9410 {
		t.Errorf("reloaded jazz = %d, %v", freq, err)
	}
}

func TestEventRoute(t *testing.T) {
	r := newTestRadio(t, testStations...)
	r.do(t, "POST", "/api/radio/channel", `{"frequency": 9000}`, nil)

	var got struct {
		Mode string `json:"mode"`
	}
	r.do(t, "POST", "/api/radio/event", `{"event": "right"}`, &got)
	if freq, _ := r.tuner.Channel(); freq != 9410 {
		t.Errorf("after right event tuned to %d, want 9410", freq)
	}

	r.do(t, "POST", "/api/radio/event", `{"event": "click"}`, &got)
	if got.Mode != "tune" {
		t.Errorf("mode after click = %q, want tune", got.Mode)
	}

	if code, _ := r.do(t, "POST", "/api/radio/event", `{"event": "sideways"}`, nil); code != 400 {
		t.Errorf("unknown event = %d, want 400", code)
	}
}

func TestStreamRequiresUpgrade(t *testing.T) {
	r := newTestRadio(t)

	req := httptest.NewRequest("GET", "/api/radio/ws", nil)
	resp, err := r.app.Test(req, -1)
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("GET /ws without upgrade = %d, want %d", resp.StatusCode, fiber.StatusUpgradeRequired)
	}
}

func TestHandleEventPublishes(t *testing.T) {
	r := newTestRadio(t, testStations...)

	id, updates := r.plugin.hub.subscribe()
	defer r.plugin.hub.unsubscribe(id)

	r.plugin.HandleEvent("click")

	select {
	case msg := <-updates:
		if msg.Mode != "tune" {
			t.Errorf("published mode = %q, want tune", msg.Mode)
		}
	case <-time.After(time.Second):
		t.Fatal("no status published after event")
	}
}

// waitEvents blocks until n more panel events have been handled.
func waitEvents(handled *atomic.Int64, n int64) {
	for want := handled.Load() + n; handled.Load() < want; {
		runtime.Gosched()
	}
}

func TestShutdownReleasesTuner(t *testing.T) {
	r := newTestRadio(t, testStations...)

	var handled atomic.Int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			r.plugin.HandleEvent(panel.EventRight)
			handled.Add(1)
		}
	}()

	waitEvents(&handled, 3)
	if err := r.plugin.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := r.tuner.PowerDown(context.Background()); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	writes := len(r.sim.Writes())

	// Events still arriving must not touch the powered down tuner.
	waitEvents(&handled, 3)
	close(stop)
	<-done

	if got := r.tuner.State(); got != tuner.StateUnpowered {
		t.Errorf("State() = %v, want %v", got, tuner.StateUnpowered)
	}
	if r.tuner.Powered() {
		t.Error("Powered() = true after power down")
	}
	if got := len(r.sim.Writes()); got != writes {
		t.Errorf("writes after shutdown = %d, want %d", got, writes)
	}

	code, res := r.do(t, "GET", "/api/radio/status", "", nil)
	if code != 503 || res.Success {
		t.Errorf("GET /status after shutdown = %d %+v, want 503", code, res)
	}
	code, _ = r.do(t, "POST", "/api/radio/seek/up", "", nil)
	if code != 503 {
		t.Errorf("POST /seek/up after shutdown = %d, want 503", code)
	}
}

func TestRadioFactory(t *testing.T) {
	factory, ok := Get("radio")
	if !ok {
		t.Fatal("radio plugin not registered")
	}

	if _, err := factory(map[string]interface{}{}); err == nil {
		t.Error("factory without tuner succeeded")
	}

	tu := tuner.New(tuner.NewSimChip(), tuner.DefaultConfig(), tuner.WithSleep(noSleep))
	p, err := factory(map[string]interface{}{
		"tuner":            tu,
		"refresh_interval": 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer p.Shutdown()
	if p.Name() != "radio" {
		t.Errorf("Name() = %q", p.Name())
	}
}
