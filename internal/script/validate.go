package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chatcast/chatcast/internal/ttypes"
)

// ErrNoSegments is returned for a script without segments.
var ErrNoSegments = errors.New("script has no segments")

// Validate reports problems that would make a script unplayable or that
// violate delivery bounds. Speakers without a voice are not errors; the
// player skips their lines.
func Validate(s ttypes.Script) error {
	if len(s.Segments) == 0 {
		return ErrNoSegments
	}

	var errs []error
	for i, seg := range s.Segments {
		if strings.TrimSpace(seg.Speaker) == "" {
			errs = append(errs, fmt.Errorf("segment %d: speaker is required", i))
		}
		errs = append(errs, checkRange(fmt.Sprintf("segment %d", i), seg.Rate, seg.Pitch, seg.Volume)...)
	}
	for speaker, v := range s.Voices {
		if strings.TrimSpace(v.VoiceID) == "" {
			errs = append(errs, fmt.Errorf("voice for %q: voice id is required", speaker))
		}
		errs = append(errs, checkRange(fmt.Sprintf("voice for %q", speaker), v.Rate, v.Pitch, v.Volume)...)
	}
	return errors.Join(errs...)
}

func checkRange(where string, rate, pitch, volume *float64) []error {
	var errs []error
	check := func(name string, v *float64, lo, hi float64) {
		if v != nil && (*v < lo || *v > hi) {
			errs = append(errs, fmt.Errorf("%s: %s %.2f out of range [%.1f, %.1f]", where, name, *v, lo, hi))
		}
	}
	check("rate", rate, ttypes.MinRate, ttypes.MaxRate)
	check("pitch", pitch, ttypes.MinPitch, ttypes.MaxPitch)
	check("volume", volume, ttypes.MinVolume, ttypes.MaxVolume)
	return errs
}

// MissingVoices lists speakers that have no voice, in order of appearance.
func MissingVoices(s ttypes.Script) []string {
	var missing []string
	for _, speaker := range s.Speakers() {
		if _, ok := s.Voices.Lookup(speaker); !ok {
			missing = append(missing, speaker)
		}
	}
	return missing
}

// WithDefaults fills voices for unmapped speakers from defaults, which are
// usually the configured voices. Script voices win.
func WithDefaults(s ttypes.Script, defaults ttypes.VoiceMapping) ttypes.Script {
	if len(defaults) == 0 {
		return s
	}
	merged := defaults.Clone()
	for k, v := range s.Voices {
		merged[k] = v
	}
	s.Voices = merged
	return s
}
