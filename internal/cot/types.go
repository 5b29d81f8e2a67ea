package cot

import "strings"

// defaultTypeMap is the detection class → CoT type code policy table.
// The taxonomy is a deployment decision, not derived from sensor data:
// unrecognized classes fall back to "unknown ground" so every detection
// still renders on the map. Per-class overrides come from cot.type_map
// in the config.
var defaultTypeMap = map[string]string{
	"person":     "a-h-G-U-C",
	"pedestrian": "a-h-G-U-C",
	"soldier":    "a-h-G-U-C-I",
	"vehicle":    "a-n-G-E-V",
	"car":        "a-n-G-E-V-C",
	"truck":      "a-n-G-E-V-T",
	"tank":       "a-h-G-E-V-A-T",
	"aircraft":   "a-u-A",
	"helicopter": "a-u-A-M-H",
	"uav":        "a-u-A-M-F-Q",
	"drone":      "a-u-A-M-F-Q",
	"boat":       "a-u-S",
	"vessel":     "a-u-S",
	"ship":       "a-u-S",
}

const fallbackType = "a-u-G"

// TypeFor maps a detection class to its CoT type code. Matching is
// case-insensitive; config overrides win over the built-in table.
func (e *Encoder) TypeFor(class string) string {
	key := strings.ToLower(strings.TrimSpace(class))
	if t, ok := e.cfg.TypeMap[key]; ok {
		return t
	}
	if t, ok := defaultTypeMap[key]; ok {
		return t
	}
	return fallbackType
}
