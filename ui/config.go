package ui

// Config contains TUI-specific configuration.
type Config struct {
	EnableMouse bool `env:"CHATCAST_MOUSE"`
	MaxWidth    int  `env:"CHATCAST_MAX_WIDTH" envDefault:"100"`

	// Reload the script when it changes on disk.
	WatchScript bool `env:"CHATCAST_WATCH" envDefault:"true"`

	// Absolute path of the loaded script
	Path string

	// Segment the cursor starts on
	StartIndex int
}
