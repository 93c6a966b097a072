package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/homebrain/insteon-core/internal/device"
	"github.com/homebrain/insteon-core/internal/events"
	"github.com/homebrain/insteon-core/internal/plm"
)

// SendCommand resolves a device by id and executes a command against it.
// The level argument is accepted on either a 0-100 percentage scale or
// the native 0-255 scale; values above 100 are taken as native and
// out-of-range input is clamped into [0, 255]. The acknowledgement
// event echoes the caller's original level.
//
// Fails with ErrNotConnected when no gateway is active, with
// device.ErrDeviceNotFound when the id resolves to nothing live, and
// with ErrCommandUnsupported when the device cannot perform the command.
func (b *Bridge) SendCommand(ctx context.Context, id, command string, level *int, fast bool, duration *float64) (events.Event, error) {
	gw := b.Gateway()
	if gw == nil {
		return events.Event{}, ErrNotConnected
	}

	normalized := device.NormalizeID(id)
	dev, ok := b.registry.Find(normalized, gw)
	if !ok {
		return events.Event{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, normalized)
	}

	opts := plm.CommandOpts{Duration: duration}
	if level != nil {
		scaled := rescaleLevel(*level)
		opts.Level = &scaled
	}

	handler, err := resolveHandler(dev, command, fast)
	if err != nil {
		return events.Event{}, err
	}

	b.log.Debug("sending command", "device_id", normalized, "command", command, "fast", fast)
	if err := handler(ctx, opts); err != nil {
		if errors.Is(err, plm.ErrUnknownCapability) {
			return events.Event{}, fmt.Errorf("%w: %s", ErrCommandUnsupported, command)
		}
		return events.Event{}, fmt.Errorf("bridge: command %q on %s: %w", command, normalized, err)
	}

	b.registry.UpdateCached(dev, false)

	ack := events.Event{
		Type:     events.TypeCommandAck,
		DeviceID: normalized,
		Command:  command,
		Level:    level,
		Fast:     events.Bool(fast),
	}
	b.pipeline.Publish(ack)
	return ack, nil
}

// commandHandler is a resolved capability call.
type commandHandler func(ctx context.Context, opts plm.CommandOpts) error

// resolveHandler maps a command name to the device's matching capability.
// Known names prefer typed interfaces; unknown names fall through to the
// Invoker if the device has one.
func resolveHandler(dev plm.Device, command string, fast bool) (commandHandler, error) {
	switch command {
	case "on", "turn_on":
		if fast {
			if fs, ok := dev.(plm.FastSwitch); ok {
				return fs.FastOn, nil
			}
		}
		if sw, ok := dev.(plm.Switch); ok {
			return sw.TurnOn, nil
		}
	case "off", "turn_off":
		if fast {
			if fs, ok := dev.(plm.FastSwitch); ok {
				return fs.FastOff, nil
			}
		}
		if sw, ok := dev.(plm.Switch); ok {
			return sw.TurnOff, nil
		}
	case "fast_on":
		if fs, ok := dev.(plm.FastSwitch); ok {
			return fs.FastOn, nil
		}
	case "fast_off":
		if fs, ok := dev.(plm.FastSwitch); ok {
			return fs.FastOff, nil
		}
	case "status", "query", "ping":
		if sq, ok := dev.(plm.StatusQuerier); ok {
			return func(ctx context.Context, _ plm.CommandOpts) error {
				return sq.StatusRequest(ctx)
			}, nil
		}
	default:
		if inv, ok := dev.(plm.Invoker); ok {
			return func(ctx context.Context, opts plm.CommandOpts) error {
				return inv.Invoke(ctx, command, opts)
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCommandUnsupported, command)
}

// rescaleLevel converts a caller-supplied level to the native 0-255
// range. Values at or below 100 are percentages; higher values are
// native. Out-of-range input is clamped, never rejected.
func rescaleLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level <= 100 {
		return int(math.Round(float64(level) / 100 * 255))
	}
	if level > 255 {
		return 255
	}
	return level
}
