package app

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    yaml "gopkg.in/yaml.v3"

    "github.com/hyperifyio/tabscribe/internal/extract"
    "github.com/hyperifyio/tabscribe/internal/fetch"
    "github.com/hyperifyio/tabscribe/internal/ocr"
    "github.com/hyperifyio/tabscribe/internal/settings"
)

// FileConfig represents the single-file configuration schema. The top-level
// keys are the user settings; nested sections tune the tool itself.
type FileConfig struct {
    APIKey       string `yaml:"apiKey" json:"apiKey"`
    Model        string `yaml:"model" json:"model"`
    Language     string `yaml:"language" json:"language"`
    OutputFormat string `yaml:"outputFormat" json:"outputFormat"`
    Debug        bool   `yaml:"debug" json:"debug"`

    OCR struct {
        Endpoint string        `yaml:"endpoint" json:"endpoint"`
        Timeout  time.Duration `yaml:"timeout" json:"timeout"`
        Retries  *int          `yaml:"retries" json:"retries"`
        Backoff  time.Duration `yaml:"backoff" json:"backoff"`
    } `yaml:"ocr" json:"ocr"`

    Capture struct {
        Extractor  string `yaml:"extractor" json:"extractor"`
        Browser    bool   `yaml:"browser" json:"browser"`
        Chrome     string `yaml:"chrome" json:"chrome"`
        NoSandbox  bool   `yaml:"noSandbox" json:"noSandbox"`
        Selector   string `yaml:"selector" json:"selector"`
        UserAgent  string `yaml:"userAgent" json:"userAgent"`
    } `yaml:"capture" json:"capture"`

    Server struct {
        RateLimit float64 `yaml:"rateLimit" json:"rateLimit"`
        Burst     int     `yaml:"burst" json:"burst"`
    } `yaml:"server" json:"server"`

    Output struct {
        Dir  string `yaml:"dir" json:"dir"`
        Jobs int    `yaml:"jobs" json:"jobs"`
    } `yaml:"output" json:"output"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
    var fc FileConfig
    b, err := os.ReadFile(path)
    if err != nil {
        return fc, err
    }
    switch ext := filepath.Ext(path); ext {
    case ".yaml", ".yml":
        if err := yaml.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse yaml: %w", err)
        }
    case ".json":
        if err := json.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse json: %w", err)
        }
    default:
        // Try YAML then JSON
        if err := yaml.Unmarshal(b, &fc); err != nil {
            if jerr := json.Unmarshal(b, &fc); jerr != nil {
                return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
            }
        }
    }
    return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset/zero in cfg. Flags and env should already be applied;
// this function lets file config supply what is still missing.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
    if cfg == nil { return }

    if cfg.APIKey == "" && fc.APIKey != "" { cfg.APIKey = strings.TrimSpace(fc.APIKey) }
    if cfg.Model == "" && fc.Model != "" { cfg.Model = fc.Model }
    if cfg.Language == "" && fc.Language != "" { cfg.Language = fc.Language }
    if cfg.Format == "" && fc.OutputFormat != "" {
        if f, err := settings.ParseFormat(fc.OutputFormat); err == nil { cfg.Format = f }
    }
    if !cfg.Verbose && fc.Debug { cfg.Verbose = true }

    if cfg.OCREndpoint == "" && fc.OCR.Endpoint != "" { cfg.OCREndpoint = fc.OCR.Endpoint }
    if cfg.OCRTimeout == 0 && fc.OCR.Timeout > 0 { cfg.OCRTimeout = fc.OCR.Timeout }
    if cfg.OCRRetries < 0 && fc.OCR.Retries != nil { cfg.OCRRetries = *fc.OCR.Retries }
    if cfg.OCRBackoff == 0 && fc.OCR.Backoff > 0 { cfg.OCRBackoff = fc.OCR.Backoff }

    if cfg.Extractor == "" && fc.Capture.Extractor != "" { cfg.Extractor = fc.Capture.Extractor }
    if !cfg.Browser && fc.Capture.Browser { cfg.Browser = true }
    if cfg.ChromePath == "" && fc.Capture.Chrome != "" { cfg.ChromePath = fc.Capture.Chrome }
    if !cfg.NoSandbox && fc.Capture.NoSandbox { cfg.NoSandbox = true }
    if cfg.Selector == "" && fc.Capture.Selector != "" { cfg.Selector = fc.Capture.Selector }
    if cfg.UserAgent == "" && fc.Capture.UserAgent != "" { cfg.UserAgent = fc.Capture.UserAgent }

    if cfg.RateLimit == 0 && fc.Server.RateLimit > 0 { cfg.RateLimit = fc.Server.RateLimit }
    if cfg.RateBurst == 0 && fc.Server.Burst > 0 { cfg.RateBurst = fc.Server.Burst }

    if cfg.OutputDir == "" && fc.Output.Dir != "" { cfg.OutputDir = fc.Output.Dir }
    if cfg.Jobs == 0 && fc.Output.Jobs > 0 { cfg.Jobs = fc.Output.Jobs }
}

// ApplyDefaults fills whatever is still unset after flags, env and file.
func ApplyDefaults(cfg *Config) {
    if cfg == nil { return }
    if cfg.Model == "" { cfg.Model = ocr.DefaultModel }
    if cfg.Format == "" { cfg.Format = settings.FormatMarkdown }
    if cfg.OCREndpoint == "" { cfg.OCREndpoint = ocr.DefaultEndpoint }
    if cfg.OCRTimeout == 0 { cfg.OCRTimeout = fetch.MaxTimeout }
    if cfg.OCRRetries < 0 { cfg.OCRRetries = fetch.DefaultRetries }
    if cfg.OCRBackoff == 0 { cfg.OCRBackoff = fetch.DefaultBackoff }
    if cfg.Extractor == "" { cfg.Extractor = "heuristic" }
    if cfg.Jobs == 0 { cfg.Jobs = 1 }
    if cfg.RateLimit == 0 { cfg.RateLimit = 5 }
    if cfg.RateBurst == 0 { cfg.RateBurst = 10 }
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
    if _, err := settings.ParseFormat(string(cfg.Format)); err != nil {
        return fmt.Errorf("config: %w", err)
    }
    if !extract.Known(cfg.Extractor) {
        return fmt.Errorf("config: unknown extractor %q (want heuristic or readability)", cfg.Extractor)
    }
    if cfg.Jobs < 1 {
        return errors.New("config: jobs must be at least 1")
    }
    if cfg.OCRTimeout < 0 || cfg.OCRRetries < 0 || cfg.OCRBackoff < 0 {
        return errors.New("config: negative ocr limits are not allowed")
    }
    if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
        return errors.New("config: negative rate limits are not allowed")
    }
    if cfg.SaveKey && strings.TrimSpace(cfg.APIKey) == "" {
        return errors.New("config: -save-key needs an api key")
    }
    if cfg.ServeAddr == "" && !cfg.SelfTest && !cfg.SaveKey && len(cfg.Inputs) == 0 {
        return ErrNoInputs
    }
    return nil
}
