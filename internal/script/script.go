// Package script loads podcast scripts from YAML, JSON and saved project
// files.
package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatcast/chatcast/internal/ttypes"
	"gopkg.in/yaml.v3"
)

// Format identifies how a script file was encoded.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
	// FormatProject is a saved studio project with script and voice mapping.
	FormatProject
	// FormatLegacy is a script-only export without voices.
	FormatLegacy
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	case FormatProject:
		return "project"
	case FormatLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ErrUnrecognized is returned for JSON that is neither a script nor a project.
var ErrUnrecognized = errors.New("unrecognized script format")

// Load reads a script file. The extension picks the decoder; JSON is further
// sniffed for project and legacy layouts.
func Load(path string) (ttypes.Script, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ttypes.Script{}, 0, fmt.Errorf("reading script: %w", err)
	}
	s, f, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return ttypes.Script{}, 0, fmt.Errorf("%s: %w", path, err)
	}
	if s.Title == "" {
		s.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, f, nil
}

// Parse decodes data. ext is a file extension hint such as ".yaml".
func Parse(data []byte, ext string) (ttypes.Script, Format, error) {
	trimmed := bytes.TrimSpace(data)
	isJSON := strings.EqualFold(ext, ".json") ||
		(ext == "" && len(trimmed) > 0 && trimmed[0] == '{')
	if isJSON {
		return parseJSON(trimmed)
	}

	var s ttypes.Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return ttypes.Script{}, 0, fmt.Errorf("decoding yaml: %w", err)
	}
	return s, FormatYAML, nil
}

// projectFile is the studio's saved project. voiceMapping is a list of
// [speaker, setting] pairs.
type projectFile struct {
	Version         string          `json:"version"`
	GeneratedScript *legacyScript   `json:"generatedScript"`
	PodcastConfig   *podcastConfig  `json:"podcastConfig"`
	AnalysisResult  json.RawMessage `json:"analysisResult"`
}

type podcastConfig struct {
	VoiceMapping []json.RawMessage `json:"voiceMapping"`
}

type legacyVoice struct {
	PodcastName string `json:"podcastName"`
	VoiceID     string `json:"voiceId"`
}

type legacyScript struct {
	ID       string           `json:"id"`
	Title    *string          `json:"title"`
	Hook     *string          `json:"hook"`
	Segments []ttypes.Segment `json:"segments"`
}

func parseJSON(data []byte) (ttypes.Script, Format, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return ttypes.Script{}, 0, fmt.Errorf("decoding json: %w", err)
	}

	switch {
	case probe["generatedScript"] != nil && probe["podcastConfig"] != nil:
		return parseProject(data)
	case probe["hook"] != nil && probe["segments"] != nil:
		var ls legacyScript
		if err := json.Unmarshal(data, &ls); err != nil {
			return ttypes.Script{}, 0, fmt.Errorf("decoding legacy script: %w", err)
		}
		return fromLegacy(ls, nil), FormatLegacy, nil
	case probe["segments"] != nil:
		var s ttypes.Script
		if err := json.Unmarshal(data, &s); err != nil {
			return ttypes.Script{}, 0, fmt.Errorf("decoding json: %w", err)
		}
		return s, FormatJSON, nil
	}
	return ttypes.Script{}, 0, ErrUnrecognized
}

func parseProject(data []byte) (ttypes.Script, Format, error) {
	var pf projectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return ttypes.Script{}, 0, fmt.Errorf("decoding project: %w", err)
	}
	if pf.Version != "1.0" && pf.Version != "1.1" {
		return ttypes.Script{}, 0, fmt.Errorf("unsupported project version %q", pf.Version)
	}
	if pf.GeneratedScript == nil || pf.PodcastConfig == nil {
		return ttypes.Script{}, 0, ErrUnrecognized
	}

	voices := make(ttypes.VoiceMapping, len(pf.PodcastConfig.VoiceMapping))
	for i, raw := range pf.PodcastConfig.VoiceMapping {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return ttypes.Script{}, 0, fmt.Errorf("voiceMapping[%d]: expected [speaker, voice] pair", i)
		}
		var speaker string
		var lv legacyVoice
		if err := json.Unmarshal(pair[0], &speaker); err != nil {
			return ttypes.Script{}, 0, fmt.Errorf("voiceMapping[%d]: speaker: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &lv); err != nil {
			return ttypes.Script{}, 0, fmt.Errorf("voiceMapping[%d]: voice: %w", i, err)
		}
		voices[speaker] = ttypes.VoiceSetting{VoiceID: lv.VoiceID, Name: lv.PodcastName}
	}
	return fromLegacy(*pf.GeneratedScript, voices), FormatProject, nil
}

func fromLegacy(ls legacyScript, voices ttypes.VoiceMapping) ttypes.Script {
	s := ttypes.Script{Segments: ls.Segments, Voices: voices}
	if ls.Title != nil {
		s.Title = *ls.Title
	}
	return s
}

// Save writes s as YAML.
func Save(path string, s ttypes.Script) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding script: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
