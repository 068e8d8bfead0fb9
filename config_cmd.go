package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# speech engine: system, piper, elevenlabs or mock
engine: "system"
# debug, info, warn or error
log_level: "info"

playback:
  # stop: a line that fails to synthesize ends playback
  # skip: log it and move on to the next line
  on_error: "stop"
  # how long stop waits before forcing teardown
  stop_timeout: "2s"
  # keep-alive interval while playing (0 disables)
  ping_interval: "12s"
  # upcoming lines rendered ahead of time
  lookahead: 2
  # minimum time before a line is considered stuck
  hang_timeout: "10s"
  # speak **bold**, [links](...) and lists as plain prose
  strip_markdown: false

# OS speech (say on macOS, espeak-ng or espeak elsewhere)
system:
  # command: "espeak-ng"
  words_per_minute: 175

piper:
  # command line, e.g. "python3 -m piper"
  binary: "piper"
  # directory holding *.onnx voices and their .onnx.json configs
  # model_dir: "~/.local/share/piper-voices"
  # model: "en_US-amy-medium"
  timeout: "30s"

elevenlabs:
  # api_key is usually set through ELEVENLABS_API_KEY or .env.local
  model: "eleven_multilingual_v2"
  sample_rate: 22050
  stability: 0.5
  similarity_boost: 0.75
  requests_per_minute: 120

# synthesized audio cache (piper and elevenlabs)
cache:
  enabled: true
  memory_mb: 64
  disk_mb: 512
  # zstd level, 0 stores raw audio
  compression: 3
  ttl: "168h"

# remembers the last line of each script for --resume
history:
  enabled: true
  max_age: "2160h"

# metrics:
#   addr: ":9090"

# default voices per speaker; voices in the script win
# voices:
#   Host:
#     voice: "en_US-amy-medium"
#     rate: 1.1
#   Guest:
#     voice: "en_GB-alan-low"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the chatcast config file",
	Long:    paragraph(fmt.Sprintf("\n%s the chatcast config file in $EDITOR. A commented default is written first if the file does not exist.", keyword("Edit"))),
	Example: paragraph("chatcast config\nchatcast config --config path/to/chatcast.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("chatcast", configFile)
		if err != nil {
			return fmt.Errorf("finding an editor: %w", err)
		}
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("running editor: %w", err)
		}

		fmt.Println("Config file:", configFile)
		return nil
	},
}

// ensureConfigFile settles which file to edit and writes the commented
// defaults there when it does not exist yet.
func ensureConfigFile() error {
	for _, candidate := range []string{configFile, viper.ConfigFileUsed(), defaultConfigPath} {
		if candidate != "" {
			configFile = candidate
			break
		}
	}
	if configFile == "" {
		return errors.New("could not determine where to write the configuration file")
	}

	switch filepath.Ext(configFile) {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("%s: config files must end in .yaml or .yml", configFile)
	}

	_, err := os.Stat(configFile)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	fmt.Println("Wrote default config to", configFile)
	return nil
}
