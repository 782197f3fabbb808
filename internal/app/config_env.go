package app

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/hyperifyio/tabscribe/internal/settings"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
    if cfg == nil { return }

    if cfg.APIKey == "" {
        // TABSCRIBE_API_KEY wins over the provider's own variable
        v := os.Getenv("TABSCRIBE_API_KEY")
        if v == "" { v = os.Getenv("MISTRAL_API_KEY") }
        cfg.APIKey = strings.TrimSpace(v)
    }
    if cfg.Model == "" {
        cfg.Model = os.Getenv("TABSCRIBE_MODEL")
    }
    if cfg.Language == "" {
        cfg.Language = os.Getenv("TABSCRIBE_LANGUAGE")
    }
    if cfg.OCREndpoint == "" {
        cfg.OCREndpoint = os.Getenv("TABSCRIBE_OCR_ENDPOINT")
    }
    if cfg.Format == "" {
        if f, err := settings.ParseFormat(os.Getenv("TABSCRIBE_FORMAT")); err == nil && os.Getenv("TABSCRIBE_FORMAT") != "" {
            cfg.Format = f
        }
    }
    if cfg.OCRTimeout == 0 {
        if s := os.Getenv("TABSCRIBE_OCR_TIMEOUT"); s != "" {
            if d, err := time.ParseDuration(s); err == nil {
                cfg.OCRTimeout = d
            }
        }
    }
    if cfg.Jobs == 0 {
        if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("TABSCRIBE_JOBS"))); err == nil && n > 0 {
            cfg.Jobs = n
        }
    }
    if !cfg.Verbose {
        cfg.Verbose = truthy(os.Getenv("TABSCRIBE_DEBUG"))
    }
}

func truthy(s string) bool {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "1", "true", "yes", "on":
        return true
    }
    return false
}
