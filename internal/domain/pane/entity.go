// Package pane defines pane identity, per-pane configuration owned by the host
// UI, and the per-pane tool/immersive mode enumeration.
package pane

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/turtacn/mapsync/pkg/errors"
)

// ID distinguishes panes for authority tracking.  It is immutable once a pane
// is created; the set of panes is open ("left", "right", "center", ...).
type ID string

// None is the zero ID, used where "no pane" is meaningful (no authority owner,
// no fullscreen pane).
const None ID = ""

var reID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ParseID validates a pane identifier coming from the host UI.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if !reID.MatchString(s) {
		return None, errors.New(errors.ErrCodeUnknownPane, "invalid pane id").WithDetail(fmt.Sprintf("%q", s))
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// ProviderKind names a map provider.
type ProviderKind string

// Known providers.  Google is the canonical zoom reference.
const (
	ProviderGoogle ProviderKind = "google"
	ProviderKakao  ProviderKind = "kakao"
	ProviderNaver  ProviderKind = "naver"
)

// KnownProviders lists the built-in provider kinds in display order.
var KnownProviders = []ProviderKind{ProviderGoogle, ProviderKakao, ProviderNaver}

// ParseProviderKind validates a provider name.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownProviders {
		if k == known {
			return k, nil
		}
	}
	return "", errors.New(errors.ErrCodeUnknownProvider, "unknown map provider").WithDetail(s)
}

func (k ProviderKind) String() string { return string(k) }

// Config is the host-owned configuration for one pane.  Adapters read it and
// never modify it.
type Config struct {
	Provider  ProviderKind `json:"provider" mapstructure:"provider"`
	Satellite bool         `json:"satellite" mapstructure:"satellite"`
}

// Validate checks the provider kind.
func (c Config) Validate() error {
	_, err := ParseProviderKind(string(c.Provider))
	return err
}

// Mode is the per-pane tool or immersive state.  A pane is in exactly one
// mode at a time.
type Mode int

const (
	ModeNormal Mode = iota
	ModeImmersivePanorama
	ModeMeasuringDistance
	ModeMeasuringArea
)

var modeNames = map[Mode]string{
	ModeNormal:            "normal",
	ModeImmersivePanorama: "panorama",
	ModeMeasuringDistance: "measure_distance",
	ModeMeasuringArea:     "measure_area",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeNormal, errors.New(errors.ErrCodeInvalidMode, "unknown pane mode").WithDetail(s)
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, errors.New(errors.ErrCodeInvalidMode, "unknown pane mode").WithDetail(m.String())
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// IsMeasuring reports whether m is one of the measurement tools.
func (m Mode) IsMeasuring() bool {
	return m == ModeMeasuringDistance || m == ModeMeasuringArea
}

// SuppressesAddressLookup reports whether single-click "show address" must be
// ignored while the pane is in m.
func (m Mode) SuppressesAddressLookup() bool {
	return m.IsMeasuring()
}

// CanTransition reports whether from → to is a legal single step.  Every mode
// is reachable only from Normal and returns only to Normal; callers that want
// to switch tools directly go through Normal (with cleanup) first.  Unknown
// modes are never legal.
func CanTransition(from, to Mode) bool {
	_, okFrom := modeNames[from]
	_, okTo := modeNames[to]
	if !okFrom || !okTo || from == to {
		return false
	}
	return from == ModeNormal || to == ModeNormal
}
