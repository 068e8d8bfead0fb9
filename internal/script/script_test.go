package script

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

const yamlScript = `title: Pilot
segments:
  - speaker: Host
    line: Welcome to the show.
  - speaker: Guest
    line: Thanks for having me.
    editedLine: Thanks for having me!
    rate: 1.2
voices:
  Host:
    voice: en_US-amy-medium
    name: Amy
  Guest:
    voice: en_GB-alan-low
    volume: 0.8
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	s, f, err := Load(write(t, "pilot.yaml", yamlScript))
	require.NoError(t, err)

	assert.Equal(t, FormatYAML, f)
	assert.Equal(t, "Pilot", s.Title)
	require.Len(t, s.Segments, 2)
	assert.Equal(t, "Welcome to the show.", s.Segments[0].Text())
	assert.Equal(t, "Thanks for having me!", s.Segments[1].Text())
	assert.Equal(t, ptr(1.2), s.Segments[1].Rate)
	assert.Equal(t, ttypes.VoiceSetting{VoiceID: "en_US-amy-medium", Name: "Amy"}, s.Voices["Host"])
	assert.Equal(t, ptr(0.8), s.Voices["Guest"].Volume)
}

func TestLoad_TitleFromFileName(t *testing.T) {
	s, _, err := Load(write(t, "episode-7.yml", "segments:\n  - speaker: A\n    line: hi\n"))
	require.NoError(t, err)
	assert.Equal(t, "episode-7", s.Title)
}

func TestLoad_JSON(t *testing.T) {
	s, f, err := Load(write(t, "s.json", `{
		"segments": [{"speaker": "Host", "line": "Hi", "pitch": 1.5}],
		"voices": {"Host": {"voice": "v1"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	assert.Equal(t, ptr(1.5), s.Segments[0].Pitch)
	assert.Equal(t, "v1", s.Voices["Host"].VoiceID)
}

func TestLoad_Project(t *testing.T) {
	s, f, err := Load(write(t, "project.json", `{
		"version": "1.1",
		"generatedScript": {
			"id": "abc",
			"title": "Debugging Together",
			"hook": "What if the bug was you?",
			"segments": [
				{"speaker": "user", "line": "So what broke?", "type": "intro"},
				{"speaker": "model", "line": "The cache.", "editedLine": "The cache, again.", "type": "segment_guest", "sfx": "drum"}
			]
		},
		"podcastConfig": {
			"style": {"id": "casual", "name": "Casual", "description": ""},
			"voiceMapping": [
				["user", {"podcastName": "Alex", "voiceId": "com.apple.voice.Alex"}],
				["model", {"podcastName": "Sam", "voiceId": "Samantha"}]
			],
			"includeMusic": false,
			"includeSfx": false
		},
		"analysisResult": {"speakers": ["user", "model"]}
	}`))
	require.NoError(t, err)

	assert.Equal(t, FormatProject, f)
	assert.Equal(t, "Debugging Together", s.Title)
	require.Len(t, s.Segments, 2)
	assert.Equal(t, "The cache, again.", s.Segments[1].Text())
	assert.Equal(t, ttypes.VoiceMapping{
		"user":  {VoiceID: "com.apple.voice.Alex", Name: "Alex"},
		"model": {VoiceID: "Samantha", Name: "Sam"},
	}, s.Voices)
}

func TestLoad_LegacyScript(t *testing.T) {
	s, f, err := Load(write(t, "old.json", `{"title": "Old", "hook": "h", "segments": [{"speaker": "A", "line": "x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, f)
	assert.Equal(t, "Old", s.Title)
	assert.Empty(t, s.Voices)
	assert.Len(t, s.Segments, 1)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"bad json", `{"segments": [`, ".json"},
		{"chat log", `[{"role": "user", "content": "hi"}]`, ".json"},
		{"unknown object", `{"messages": []}`, ".json"},
		{"bad project version", `{"version": "2.0", "generatedScript": {"segments": []}, "podcastConfig": {"voiceMapping": []}}`, ".json"},
		{"bad pair", `{"version": "1.0", "generatedScript": {"segments": []}, "podcastConfig": {"voiceMapping": [["only"]]}}`, ".json"},
		{"bad yaml", "segments: [", ".yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.data), tt.ext)
			assert.Error(t, err)
		})
	}
}

func TestParse_SniffsJSONWithoutExtension(t *testing.T) {
	_, f, err := Parse([]byte(`  {"segments": []}`), "")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestSaveRoundTrip(t *testing.T) {
	original, _, err := Parse([]byte(yamlScript), ".yaml")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, original))

	loaded, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(ttypes.Script{}), ErrNoSegments)

	good, _, err := Parse([]byte(yamlScript), ".yaml")
	require.NoError(t, err)
	assert.NoError(t, Validate(good))

	bad := ttypes.Script{
		Segments: []ttypes.Segment{
			{Speaker: "", Line: "x"},
			{Speaker: "A", Line: "y", Rate: ptr(20.0), Volume: ptr(-1.0)},
		},
		Voices: ttypes.VoiceMapping{"A": {VoiceID: " ", Pitch: ptr(3.0)}},
	}
	err = Validate(bad)
	require.Error(t, err)
	for _, want := range []string{
		"segment 0: speaker is required",
		"segment 1: rate 20.00 out of range",
		"segment 1: volume -1.00 out of range",
		`voice for "A": voice id is required`,
		`voice for "A": pitch 3.00 out of range`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMissingVoices(t *testing.T) {
	s := ttypes.Script{
		Segments: []ttypes.Segment{{Speaker: "Host"}, {Speaker: "Guest"}, {Speaker: "Caller"}, {Speaker: "Guest"}},
		Voices:   ttypes.VoiceMapping{"host": {VoiceID: "v"}},
	}
	assert.Equal(t, []string{"Guest", "Caller"}, MissingVoices(s))
}

func TestWithDefaults(t *testing.T) {
	s := ttypes.Script{Voices: ttypes.VoiceMapping{"Host": {VoiceID: "script"}}}
	defaults := ttypes.VoiceMapping{"Host": {VoiceID: "config"}, "Guest": {VoiceID: "config"}}

	merged := WithDefaults(s, defaults)
	assert.Equal(t, "script", merged.Voices["Host"].VoiceID)
	assert.Equal(t, "config", merged.Voices["Guest"].VoiceID)
	assert.Len(t, defaults, 2, "defaults are not modified")
	assert.Equal(t, s, WithDefaults(s, nil))
}

func TestWatch(t *testing.T) {
	path := write(t, "live.yaml", yamlScript)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := log.New(io.Discard)
	reloads := make(chan ttypes.Script, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger, func(s ttypes.Script, err error) {
			if err == nil {
				reloads <- s
			}
		})
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("title: Edited\nsegments:\n  - speaker: Host\n    line: New\n"), 0o644))

	select {
	case s := <-reloads:
		assert.Equal(t, "Edited", s.Title)
		assert.Equal(t, "New", s.Segments[0].Line)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after edit")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
}
