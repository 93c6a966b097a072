package device

import (
	"sort"
	"strings"
	"time"

	"github.com/homebrain/insteon-core/internal/plm"
)

// Snapshot is a normalized, serializable point-in-time representation of
// a device. It is immutable per update: the registry replaces the whole
// record rather than mutating it in place.
//
// The JSON field names are part of the cache file and API wire format.
type Snapshot struct {
	ID           string            `json:"id"`
	Address      string            `json:"address"`
	Name         string            `json:"name"`
	Category     *int              `json:"category"`
	Subcategory  *int              `json:"subcategory"`
	ProductKey   *string           `json:"product_key"`
	Firmware     *string           `json:"firmware"`
	Capabilities []string          `json:"capabilities"`
	State        map[string]any    `json:"state"`
	LastSeen     *string           `json:"last_seen"`
	Raw          map[string]string `json:"raw"`
}

// NormalizeID converts a device address to the canonical registry key:
// separators removed, lower-cased. It is applied at every boundary so a
// device is reachable under exactly one key.
func NormalizeID(address string) string {
	address = strings.ReplaceAll(address, ".", "")
	address = strings.ReplaceAll(address, ":", "")
	return strings.ToLower(address)
}

// IsOn classifies the snapshot as on or off from the truthiness of its
// level or on/off state channels. For devices exposing only a dimmer
// level channel the classification is inferred, not authoritative.
func (s Snapshot) IsOn() bool {
	for name, value := range s.State {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "level") && !strings.HasPrefix(lower, "on_off") {
			continue
		}
		if truthy(value) {
			return true
		}
	}
	return false
}

// truthy reports whether a scalar state value counts as "on".
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != "" && val != "0" && !strings.EqualFold(val, "false") && !strings.EqualFold(val, "off")
	default:
		return false
	}
}

// SnapshotOf builds a Snapshot from a live gateway handle, probing the
// optional metadata and capability interfaces. It never assumes a fixed
// device shape: absent surfaces simply leave their fields nil.
func SnapshotOf(d plm.Device) Snapshot {
	id := NormalizeID(d.Address())

	snap := Snapshot{
		ID:           id,
		Address:      id,
		Name:         deviceName(d, id),
		Capabilities: deriveCapabilities(d),
		State:        extractState(d),
		Raw:          map[string]string{},
	}

	if c, ok := d.(plm.Categorized); ok {
		if cat, present := c.Category(); present {
			snap.Category = &cat
		}
		if sub, present := c.Subcategory(); present {
			snap.Subcategory = &sub
		}
	}

	if p, ok := d.(plm.ProductInfo); ok {
		if key := p.ProductKey(); key != "" {
			snap.ProductKey = &key
		}
		if fw := p.Firmware(); fw != "" {
			snap.Firmware = &fw
		}
	}

	if ls, ok := d.(plm.LastSeen); ok {
		if t := ls.LastSeen(); !t.IsZero() {
			formatted := t.Format(time.RFC3339)
			snap.LastSeen = &formatted
		}
	}

	if diag, ok := d.(plm.Diagnostic); ok {
		for k, v := range diag.Raw() {
			snap.Raw[k] = v
		}
	}

	return snap
}

// deviceName picks a human-readable name, falling back to the address in
// upper case the way the gateway's own tooling labels unnamed devices.
func deviceName(d plm.Device, id string) string {
	if n, ok := d.(plm.Named); ok {
		if name := strings.TrimSpace(n.Name()); name != "" {
			return name
		}
	}
	return "Insteon " + strings.ToUpper(id)
}

// deriveCapabilities maps the device's interface set and state-channel
// names to the enumerated capability labels.
func deriveCapabilities(d plm.Device) []string {
	set := make(map[string]struct{})

	if _, ok := d.(plm.Switch); ok {
		set["switch"] = struct{}{}
	}
	if _, ok := d.(plm.FastSwitch); ok {
		set["fast_on"] = struct{}{}
		set["fast_off"] = struct{}{}
	}
	if _, ok := d.(plm.StatusQuerier); ok {
		set["status_query"] = struct{}{}
	}
	if lister, ok := d.(plm.CapabilityLister); ok {
		for _, label := range lister.Capabilities() {
			set[label] = struct{}{}
		}
	}

	if holder, ok := d.(plm.StateHolder); ok {
		for _, group := range holder.StateGroups() {
			name := strings.ToLower(group.Name())
			switch {
			case strings.HasPrefix(name, "level"):
				set["dimmer"] = struct{}{}
			case strings.HasPrefix(name, "on_off"):
				set["switch"] = struct{}{}
			}
		}
	}

	caps := make([]string, 0, len(set))
	for label := range set {
		caps = append(caps, label)
	}
	sort.Strings(caps)
	return caps
}

// extractState collects the current value of every state channel,
// keeping scalars only. Non-scalar values are dropped rather than risk
// an unserializable cache entry.
func extractState(d plm.Device) map[string]any {
	state := make(map[string]any)

	holder, ok := d.(plm.StateHolder)
	if !ok {
		return state
	}

	for _, group := range holder.StateGroups() {
		value := group.Value()
		switch value.(type) {
		case nil, bool, int, int64, float64, string:
			state[group.Name()] = value
		}
	}
	return state
}
