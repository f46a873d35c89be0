package plugins

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/tuner"
)

// EncoderMode selects what turning the encoder changes.
type EncoderMode int

// Encoder modes
const (
	ModeVolume EncoderMode = iota
	ModeTune
)

func (m EncoderMode) String() string {
	if m == ModeTune {
		return "tune"
	}
	return "volume"
}

// Favorites holds the one station the up button recalls.
type Favorites interface {
	Favorite() int
	SetFavorite(freq int) error
}

// Dispatcher maps front panel events to tuner operations. It is not safe
// for concurrent use; the radio plugin calls it under its lock.
type Dispatcher struct {
	tuner     *tuner.Tuner
	favorites Favorites
	mode      EncoderMode
}

// NewDispatcher returns a dispatcher in volume mode.
func NewDispatcher(t *tuner.Tuner, favorites Favorites) *Dispatcher {
	return &Dispatcher{tuner: t, favorites: favorites, mode: ModeVolume}
}

// Mode returns the encoder mode.
func (d *Dispatcher) Mode() EncoderMode {
	return d.mode
}

// Handle runs the action bound to ev. While the tuner is powered down only
// the power toggle and the mode switch do anything.
func (d *Dispatcher) Handle(ctx context.Context, ev panel.Event) error {
	t := d.tuner

	switch ev {
	case panel.EventClick:
		if d.mode == ModeVolume {
			d.mode = ModeTune
		} else {
			d.mode = ModeVolume
		}
		slog.Debug("Encoder mode changed", "mode", d.mode)
		return nil
	case panel.EventDownLong:
		return d.togglePower(ctx)
	}

	if !t.Powered() {
		slog.Debug("Panel event ignored while powered down", "event", ev)
		return nil
	}

	switch ev {
	case panel.EventLeft:
		_, err := t.SeekDown(ctx)
		return err
	case panel.EventRight:
		_, err := t.SeekUp(ctx)
		return err
	case panel.EventUpShort:
		if fav := d.favorites.Favorite(); fav != 0 {
			_, err := t.SetChannel(ctx, fav)
			return err
		}
		return nil
	case panel.EventUpLong:
		freq, err := t.Channel()
		if err != nil {
			return err
		}
		if err := d.favorites.SetFavorite(freq); err != nil {
			return err
		}
		slog.Info("Favorite saved", "frequency", freq)
		return nil
	case panel.EventDownShort:
		muted, err := t.Mute()
		if err != nil {
			return err
		}
		return t.SetMute(!muted)
	case panel.EventCW:
		if d.mode == ModeVolume {
			_, err := t.IncVolume()
			return err
		}
		_, err := t.IncChannel(ctx)
		return err
	case panel.EventCCW:
		if d.mode == ModeVolume {
			_, err := t.DecVolume()
			return err
		}
		_, err := t.DecChannel(ctx)
		return err
	default:
		return fmt.Errorf("unknown panel event %q", ev)
	}
}

func (d *Dispatcher) togglePower(ctx context.Context) error {
	if d.tuner.Powered() {
		slog.Info("Powering down from panel")
		return d.tuner.PowerDown(ctx)
	}
	slog.Info("Powering up from panel")
	return d.tuner.PowerUp(ctx)
}
