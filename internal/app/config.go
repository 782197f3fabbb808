package app

import (
	"time"

	"github.com/hyperifyio/tabscribe/internal/settings"
)

// Config holds runtime configuration for the command line tool.
type Config struct {
	Inputs     []string
	OutputDir  string
	ConfigPath string

	// OCR
	APIKey      string
	Model       string
	Language    string
	OCREndpoint string
	OCRTimeout  time.Duration
	OCRRetries  int // negative means unset
	OCRBackoff  time.Duration

	// Capture
	Selection  bool
	Selector   string
	Browser    bool
	ChromePath string
	NoSandbox  bool
	Extractor  string
	UserAgent  string

	// Output
	Format settings.Format

	// Server
	ServeAddr string
	RateLimit float64
	RateBurst int

	// Behavior
	Jobs     int
	SaveKey  bool
	SelfTest bool
	Verbose  bool
}
