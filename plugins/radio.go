package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/tuner"
)

// RadioPlugin exposes one tuner over REST and a status stream. The tuner
// is not safe for concurrent use, so every request, panel event and status
// refresh runs under mu. Once closed is set nothing touches the tuner
// again.
type RadioPlugin struct {
	mu             sync.Mutex
	closed         bool
	tuner          *tuner.Tuner
	ui             *Dispatcher
	presets        *PresetStore
	hub            *statusHub
	ctx            context.Context
	cancel         context.CancelFunc
	tokenValidator TokenValidator
}

// ErrShutdown is returned for tuner access after Shutdown.
var ErrShutdown = errors.New("radio plugin shut down")

// RadioConfig holds the radio plugin configuration.
type RadioConfig struct {
	Tuner           *tuner.Tuner
	PresetsPath     string
	RefreshInterval time.Duration
}

// gpioModes maps request strings to GPIO pin states.
var gpioModes = map[string]tuner.GPIOMode{
	"hiz":     tuner.GPIOHighZ,
	"special": tuner.GPIOSpecial,
	"low":     tuner.GPIOLow,
	"high":    tuner.GPIOHigh,
}

// NewRadioPlugin creates a radio plugin and starts its status refresh.
func NewRadioPlugin(cfg RadioConfig) (*RadioPlugin, error) {
	if cfg.Tuner == nil {
		return nil, fmt.Errorf("tuner cannot be nil")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	presets, err := NewPresetStore(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &RadioPlugin{
		tuner:   cfg.Tuner,
		ui:      NewDispatcher(cfg.Tuner, presets),
		presets: presets,
		hub:     newStatusHub(),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.refreshLoop(ctx, cfg.RefreshInterval)

	slog.Info("Radio plugin initializing",
		"presets", cfg.PresetsPath,
		"refresh_interval", cfg.RefreshInterval,
		"band", cfg.Tuner.Limits().String())

	return p, nil
}

// SetTokenValidator sets the token validation function
func (p *RadioPlugin) SetTokenValidator(validator TokenValidator) {
	p.tokenValidator = validator
}

// Name returns the plugin identifier
func (p *RadioPlugin) Name() string {
	return "radio"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *RadioPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/radio")

	api.Get("/status", p.handleStatus)
	api.Get("/info", p.handleInfo)
	api.Get("/registers", p.handleRegisters)

	api.Get("/channel", p.handleGetChannel)
	api.Post("/channel", p.handleSetChannel)
	api.Post("/channel/up", p.handleChannelStep(true))
	api.Post("/channel/down", p.handleChannelStep(false))
	api.Post("/seek/up", p.handleSeek(true))
	api.Post("/seek/down", p.handleSeek(false))
	api.Post("/region", p.handleSetRegion)

	api.Get("/volume", p.handleGetVolume)
	api.Post("/volume", p.handleSetVolume)
	api.Post("/volume/up", p.handleVolumeStep(true))
	api.Post("/volume/down", p.handleVolumeStep(false))
	api.Post("/mute", p.handleSetMute)
	api.Post("/mono", p.handleSetMono)
	api.Post("/volext", p.handleSetVolExt)

	api.Post("/power", p.handleSetPower)
	api.Post("/gpio", p.handleSetGPIO)
	api.Post("/event", p.handleEvent)

	api.Get("/presets", p.handleListPresets)
	api.Post("/presets", p.handleSavePreset)
	api.Post("/presets/:name/tune", p.handleTunePreset)
	api.Delete("/presets/:name", p.handleDeletePreset)

	api.Use("/ws", p.requireUpgrade)
	api.Get("/ws", websocket.New(p.handleStream))

	slog.Info("Radio plugin routes registered")
}

// Shutdown aborts any tune or seek in progress, waits for it to release
// the tuner and closes the status stream. Later requests and panel events
// fail with ErrShutdown, so main can power the tuner down once Shutdown
// returns. Shutdown may be called more than once.
func (p *RadioPlugin) Shutdown() error {
	p.cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.hub.closeAll()
	return nil
}

func (p *RadioPlugin) requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if p.tokenValidator != nil && !p.tokenValidator(c.Query("token")) {
		return SendErrorMessage(c, 401, "Unauthorized")
	}
	return c.Next()
}

// withTuner runs fn under the plugin lock.
func (p *RadioPlugin) withTuner(fn func(t *tuner.Tuner) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdown
	}
	return fn(p.tuner)
}

// update runs fn under the plugin lock, then pushes the new state to
// stream clients.
func (p *RadioPlugin) update(fn func(t *tuner.Tuner) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdown
	}

	err := fn(p.tuner)
	if p.hub.count() > 0 {
		p.hub.publish(p.statusLocked())
	}
	return err
}

// status reads the tuner status under the plugin lock.
func (p *RadioPlugin) status() (StatusMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return StatusMessage{}, ErrShutdown
	}
	return p.statusLocked(), nil
}

// statusLocked reads the tuner status. Callers hold mu.
func (p *RadioPlugin) statusLocked() StatusMessage {
	msg := StatusMessage{
		Type:     "status",
		Mode:     p.ui.Mode().String(),
		Favorite: p.presets.Favorite(),
		Limits:   p.tuner.Limits(),
		Time:     time.Now(),
	}

	st, err := p.tuner.Status()
	if err != nil {
		msg.Type = "error"
		msg.Error = err.Error()
	} else {
		msg.Status = &st
	}

	msg.State = p.tuner.State().String()
	msg.Powered = p.tuner.Powered()
	msg.Stale = p.tuner.Stale()
	return msg
}

// HandleEvent runs a front panel event.
func (p *RadioPlugin) HandleEvent(ev panel.Event) {
	err := p.update(func(t *tuner.Tuner) error {
		return p.ui.Handle(p.ctx, ev)
	})
	if errors.Is(err, ErrShutdown) {
		slog.Debug("Panel event after shutdown", "event", ev)
		return
	}
	if err != nil {
		slog.Error("Panel event failed", "event", ev, "error", err)
	}
}

// Status handlers

func (p *RadioPlugin) handleStatus(c *fiber.Ctx) error {
	msg, err := p.status()
	if err != nil {
		return SendError(c, ErrorStatus(err), err)
	}
	if msg.Error != "" {
		return SendErrorMessage(c, 502, msg.Error)
	}
	return SendSuccess(c, msg, "")
}

func (p *RadioPlugin) handleInfo(c *fiber.Ctx) error {
	var info tuner.Info
	var limits tuner.BandLimits

	err := p.withTuner(func(t *tuner.Tuner) error {
		var err error
		info, err = t.Info()
		limits = t.Limits()
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"device": info,
		"limits": limits,
		"band":   limits.String(),
	}, "")
}

func (p *RadioPlugin) handleRegisters(c *fiber.Ctx) error {
	var img tuner.Image

	err := p.withTuner(func(t *tuner.Tuner) error {
		var err error
		img, err = t.Registers()
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	regList := make([]map[string]interface{}, 0, tuner.NumRegs)
	for reg := tuner.Reg(0); reg < tuner.NumRegs; reg++ {
		value := img.Word(reg)

		desc := tuner.RegisterDescriptions[reg]
		if desc == "" {
			desc = "Unknown"
		}

		entry := map[string]interface{}{
			"address":     fmt.Sprintf("0x%02X", uint8(reg)),
			"value":       fmt.Sprintf("0x%04X", value),
			"value_dec":   value,
			"description": desc,
			"writable":    reg.Writable(),
		}
		if fields := decodeRegister(img, reg); fields != nil {
			entry["fields"] = fields
		}
		regList = append(regList, entry)
	}

	return SendSuccess(c, map[string]interface{}{
		"registers": regList,
		"count":     len(regList),
	}, "")
}

// decodeRegister returns the field view of the registers that have one.
func decodeRegister(img tuner.Image, reg tuner.Reg) interface{} {
	switch reg {
	case tuner.RegDeviceID:
		return img.DeviceID()
	case tuner.RegChipID:
		return img.ChipID()
	case tuner.RegPowerCfg:
		return img.PowerCfg()
	case tuner.RegChannel:
		return img.Channel()
	case tuner.RegSysConfig1:
		return img.SysConfig1()
	case tuner.RegSysConfig2:
		return img.SysConfig2()
	case tuner.RegSysConfig3:
		return img.SysConfig3()
	case tuner.RegTest1:
		return img.Test1()
	case tuner.RegStatusRSSI:
		return img.StatusRSSI()
	case tuner.RegReadChan:
		return img.ReadChan()
	}
	return nil
}

// Tuning handlers

func (p *RadioPlugin) handleGetChannel(c *fiber.Ctx) error {
	var freq int

	err := p.withTuner(func(t *tuner.Tuner) error {
		var err error
		freq, err = t.Channel()
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"frequency": freq,
	}, "")
}

func (p *RadioPlugin) handleSetChannel(c *fiber.Ctx) error {
	var req struct {
		Frequency int `json:"frequency"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	if req.Frequency <= 0 {
		return SendErrorMessage(c, 400, "Frequency is required")
	}

	var freq int
	err := p.update(func(t *tuner.Tuner) error {
		var err error
		freq, err = t.SetChannel(p.ctx, req.Frequency)
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Channel set", "requested", req.Frequency, "frequency", freq)
	return SendSuccess(c, map[string]interface{}{
		"frequency": freq,
	}, "Channel set successfully")
}

func (p *RadioPlugin) handleChannelStep(up bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var freq int
		err := p.update(func(t *tuner.Tuner) error {
			var err error
			if up {
				freq, err = t.IncChannel(p.ctx)
			} else {
				freq, err = t.DecChannel(p.ctx)
			}
			return err
		})

		if err != nil {
			return sendTunerError(c, err)
		}

		return SendSuccess(c, map[string]interface{}{
			"frequency": freq,
		}, "")
	}
}

func (p *RadioPlugin) handleSeek(up bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var freq int
		err := p.update(func(t *tuner.Tuner) error {
			var err error
			if up {
				freq, err = t.SeekUp(p.ctx)
			} else {
				freq, err = t.SeekDown(p.ctx)
			}
			return err
		})

		if err != nil {
			return sendTunerError(c, err)
		}

		found := freq != tuner.NoStation
		message := "Station found"
		if !found {
			message = "No station found"
		}

		slog.Info("Seek completed", "up", up, "frequency", freq, "found", found)
		return SendSuccess(c, map[string]interface{}{
			"frequency": freq,
			"found":     found,
		}, message)
	}
}

func (p *RadioPlugin) handleSetRegion(c *fiber.Ctx) error {
	var req struct {
		Band       tuner.Band       `json:"band"`
		Spacing    tuner.Spacing    `json:"spacing"`
		DeEmphasis tuner.DeEmphasis `json:"de_emphasis"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	if !tuner.ValidBand(req.Band) {
		return SendErrorMessage(c, 400, fmt.Sprintf("Invalid band: %d", req.Band))
	}
	if !tuner.ValidSpacing(req.Spacing) {
		return SendErrorMessage(c, 400, fmt.Sprintf("Invalid spacing: %d", req.Spacing))
	}
	if req.DeEmphasis > tuner.DeEmphasis50us {
		return SendErrorMessage(c, 400, fmt.Sprintf("Invalid de-emphasis: %d", req.DeEmphasis))
	}

	var limits tuner.BandLimits
	err := p.update(func(t *tuner.Tuner) error {
		if err := t.SetRegion(req.Band, req.Spacing, req.DeEmphasis); err != nil {
			return err
		}
		limits = t.Limits()
		return nil
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Region set", "band", limits.String())
	return SendSuccess(c, map[string]interface{}{
		"limits": limits,
	}, "Region set successfully")
}

// Audio handlers

func (p *RadioPlugin) handleGetVolume(c *fiber.Ctx) error {
	var volume int
	var muted bool

	err := p.withTuner(func(t *tuner.Tuner) error {
		var err error
		if volume, err = t.Volume(); err != nil {
			return err
		}
		muted, err = t.Mute()
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"volume": volume,
		"muted":  muted,
	}, "")
}

func (p *RadioPlugin) handleSetVolume(c *fiber.Ctx) error {
	var req struct {
		Volume *int `json:"volume"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	if req.Volume == nil {
		return SendErrorMessage(c, 400, "Volume is required")
	}

	var volume int
	err := p.update(func(t *tuner.Tuner) error {
		var err error
		volume, err = t.SetVolume(*req.Volume)
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Volume set", "volume", volume)
	return SendSuccess(c, map[string]interface{}{
		"volume": volume,
	}, "Volume set successfully")
}

func (p *RadioPlugin) handleVolumeStep(up bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var volume int
		err := p.update(func(t *tuner.Tuner) error {
			var err error
			if up {
				volume, err = t.IncVolume()
			} else {
				volume, err = t.DecVolume()
			}
			return err
		})

		if err != nil {
			return sendTunerError(c, err)
		}

		return SendSuccess(c, map[string]interface{}{
			"volume": volume,
		}, "")
	}
}

// parseSwitch reads a {"<key>": bool} request body.
func parseSwitch(c *fiber.Ctx, key string) (bool, error) {
	var req map[string]*bool
	if err := c.BodyParser(&req); err != nil {
		return false, fmt.Errorf("invalid request body")
	}
	v, ok := req[key]
	if !ok || v == nil {
		return false, fmt.Errorf("%s is required", key)
	}
	return *v, nil
}

func (p *RadioPlugin) handleSetMute(c *fiber.Ctx) error {
	mute, err := parseSwitch(c, "mute")
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	err = p.update(func(t *tuner.Tuner) error {
		return t.SetMute(mute)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Mute set", "mute", mute)
	return SendSuccess(c, map[string]interface{}{
		"mute": mute,
	}, "")
}

func (p *RadioPlugin) handleSetMono(c *fiber.Ctx) error {
	mono, err := parseSwitch(c, "mono")
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	err = p.update(func(t *tuner.Tuner) error {
		return t.SetMono(mono)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Mono set", "mono", mono)
	return SendSuccess(c, map[string]interface{}{
		"mono": mono,
	}, "")
}

func (p *RadioPlugin) handleSetVolExt(c *fiber.Ctx) error {
	on, err := parseSwitch(c, "volext")
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	err = p.update(func(t *tuner.Tuner) error {
		return t.SetVolExt(on)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Extended volume range set", "volext", on)
	return SendSuccess(c, map[string]interface{}{
		"volext": on,
	}, "")
}

// Device handlers

func (p *RadioPlugin) handleSetPower(c *fiber.Ctx) error {
	on, err := parseSwitch(c, "on")
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	err = p.update(func(t *tuner.Tuner) error {
		if on {
			return t.PowerUp(p.ctx)
		}
		return t.PowerDown(p.ctx)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	state := "off"
	if on {
		state = "on"
	}

	slog.Info("Power set", "state", state)
	return SendSuccess(c, map[string]interface{}{
		"on": on,
	}, fmt.Sprintf("Radio powered %s", state))
}

func (p *RadioPlugin) handleSetGPIO(c *fiber.Ctx) error {
	var req struct {
		Pin  int    `json:"pin"`
		Mode string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	mode, ok := gpioModes[req.Mode]
	if !ok {
		return SendErrorMessage(c, 400, "Invalid mode. Use 'hiz', 'special', 'low' or 'high'")
	}

	err := p.update(func(t *tuner.Tuner) error {
		return t.SetGPIO(tuner.GPIOPin(req.Pin), mode)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("GPIO set", "pin", req.Pin, "mode", req.Mode)
	return SendSuccess(c, map[string]interface{}{
		"pin":  req.Pin,
		"mode": req.Mode,
	}, "")
}

func (p *RadioPlugin) handleEvent(c *fiber.Ctx) error {
	var req StreamCommand
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	ev, err := panel.ParseEvent(req.Event)
	if err != nil {
		return SendErrorMessage(c, 400, err.Error())
	}

	var mode EncoderMode
	err = p.update(func(t *tuner.Tuner) error {
		err := p.ui.Handle(p.ctx, ev)
		mode = p.ui.Mode()
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"event": ev,
		"mode":  mode.String(),
	}, "")
}

// Preset handlers

func (p *RadioPlugin) handleListPresets(c *fiber.Ctx) error {
	return SendSuccess(c, map[string]interface{}{
		"presets":  p.presets.List(),
		"favorite": p.presets.Favorite(),
	}, "")
}

func (p *RadioPlugin) handleSavePreset(c *fiber.Ctx) error {
	var req Preset
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	if req.Name == "" {
		return SendErrorMessage(c, 400, "Preset name is required")
	}

	err := p.withTuner(func(t *tuner.Tuner) error {
		if req.Frequency == 0 {
			freq, err := t.Channel()
			if err != nil {
				return err
			}
			req.Frequency = freq
		}
		req.Frequency = t.Limits().Clamp(req.Frequency)
		return p.presets.Put(req.Name, req.Frequency)
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Preset saved", "name", req.Name, "frequency", req.Frequency)
	return SendSuccess(c, req, "Preset saved")
}

func (p *RadioPlugin) handleTunePreset(c *fiber.Ctx) error {
	name := c.Params("name")

	var freq int
	err := p.update(func(t *tuner.Tuner) error {
		target, err := p.presets.Get(name)
		if err != nil {
			return err
		}
		freq, err = t.SetChannel(p.ctx, target)
		return err
	})

	if err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Preset tuned", "name", name, "frequency", freq)
	return SendSuccess(c, map[string]interface{}{
		"name":      name,
		"frequency": freq,
	}, "")
}

func (p *RadioPlugin) handleDeletePreset(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := p.presets.Delete(name); err != nil {
		return sendTunerError(c, err)
	}

	slog.Info("Preset deleted", "name", name)
	return SendSuccess(c, nil, "Preset deleted")
}

// Register the plugin
func init() {
	Register("radio", func(config interface{}) (Plugin, error) {
		configMap, ok := config.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid config for radio plugin")
		}

		var radioConfig RadioConfig

		t, ok := configMap["tuner"].(*tuner.Tuner)
		if !ok || t == nil {
			return nil, fmt.Errorf("radio plugin requires a tuner")
		}
		radioConfig.Tuner = t

		if path, ok := configMap["presets_path"].(string); ok {
			radioConfig.PresetsPath = path
		}
		if interval, ok := configMap["refresh_interval"].(time.Duration); ok {
			radioConfig.RefreshInterval = interval
		}

		return NewRadioPlugin(radioConfig)
	})
}
