package ratelimit

import "time"

// Preset policy names used by the studio's route handlers.
const (
	PresetAPI           = "api"
	PresetAuth          = "auth"
	PresetContact       = "contact"
	PresetBooking       = "booking"
	PresetUpload        = "upload"
	PresetSearch        = "search"
	PresetPasswordReset = "passwordReset"
	PresetEmail         = "email"
)

// Presets returns the built-in fixed window policies keyed by name. The map is
// freshly allocated on each call.
func Presets() map[string]Policy {
	presets := []Policy{
		fixed(PresetAPI, 100, 15*time.Minute),
		fixed(PresetAuth, 5, 15*time.Minute),
		fixed(PresetContact, 3, time.Hour),
		fixed(PresetBooking, 10, time.Hour),
		fixed(PresetUpload, 20, time.Hour),
		fixed(PresetSearch, 50, 15*time.Minute),
		fixed(PresetPasswordReset, 3, time.Hour),
		fixed(PresetEmail, 10, time.Hour),
	}

	m := make(map[string]Policy, len(presets))
	for _, p := range presets {
		m[p.Name] = p
	}
	return m
}

func fixed(name string, maxUnits int, window time.Duration) Policy {
	return Policy{
		Name:      name,
		Algorithm: AlgorithmFixedWindow,
		MaxUnits:  maxUnits,
		Window:    window,
	}
}
