package digitcap

import (
	"encoding/json"
	"log"
	"os"
)

// Prefs is the flat record of settings persisted across runs. It is read
// once at startup and written once at shutdown.
type Prefs struct {
	// Intensity is stored in the set scale (0-15), never the readback
	// scale; callers apply digit.ScaleDown before saving a readback.
	Intensity int `json:"intensity"`

	// StreamIndex is the catalog index. The catalog order is fixed by
	// the device enumeration order, so the index keeps its meaning
	// across runs.
	StreamIndex int `json:"stream_index"`

	NumFrames        int    `json:"num_frames"`
	InteractionNum   int    `json:"interaction_num"`
	CountdownSeconds int    `json:"countdown_seconds"`
	CountdownEnabled bool   `json:"countdown_enabled"`
	SaveDir          string `json:"save_dir"`
}

// DefaultPrefs returns the settings used when no preference file exists.
// Intensity and StreamIndex of -1 mean "leave the device value alone".
func DefaultPrefs() Prefs {
	return Prefs{
		Intensity:        -1,
		StreamIndex:      -1,
		NumFrames:        1,
		InteractionNum:   1,
		CountdownSeconds: 3,
		CountdownEnabled: false,
		SaveDir:          "images",
	}
}

// LoadPrefs reads the preference file at path. A missing or unparseable
// file yields the defaults; loading never fails the caller.
func LoadPrefs(path string) Prefs {
	prefs := DefaultPrefs()
	buf, err := os.ReadFile(path)
	if err != nil {
		return prefs
	}
	if err := json.Unmarshal(buf, &prefs); err != nil {
		log.Printf("prefs, parsing %s: %v", path, err)
		return DefaultPrefs()
	}
	return prefs
}

// SavePrefs writes the preference file, best effort. A failure is logged,
// not escalated: losing preferences must never block shutdown.
func SavePrefs(path string, prefs Prefs) {
	buf, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		log.Printf("prefs, encoding: %v", err)
		return
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		log.Printf("prefs, writing %s: %v", path, err)
	}
}
