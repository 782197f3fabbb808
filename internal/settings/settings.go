// Package settings holds the user's capture settings and the file-backed
// store they live in.
package settings

import (
	"fmt"
	"strings"
)

// Format is the output document format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the canonical names and their aliases
// (structured, md, plain, txt, data).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md", "structured":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	case "json", "data":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown output format %q (want markdown, text, json or pdf)", s)
}

// Settings is the snapshot an action reads once at its start.
type Settings struct {
	APIKey       string `yaml:"apiKey" json:"apiKey"`
	Model        string `yaml:"model" json:"model"`
	Language     string `yaml:"language" json:"language"`
	OutputFormat Format `yaml:"outputFormat" json:"outputFormat"`
	Debug        bool   `yaml:"debug" json:"debug"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Model:        "mistral-ocr-latest",
		OutputFormat: FormatMarkdown,
	}
}

// Normalized fills empty fields from Defaults and canonicalizes the format.
// An unknown format falls back to markdown.
func (s Settings) Normalized() Settings {
	d := Defaults()
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Language = strings.TrimSpace(s.Language)
	if strings.TrimSpace(s.Model) == "" {
		s.Model = d.Model
	}
	f, err := ParseFormat(string(s.OutputFormat))
	if err != nil {
		f = d.OutputFormat
	}
	s.OutputFormat = f
	return s
}
