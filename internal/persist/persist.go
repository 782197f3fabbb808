// Package persist writes finished documents to local storage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Saver stores content under filename and returns where it went.
type Saver interface {
	Save(ctx context.Context, content []byte, filename string, mime string) (string, error)
}

// ErrEmptyContent is returned instead of writing an empty file.
var ErrEmptyContent = errors.New("persist: refusing to write empty content")

// DirSaver writes files into Dir (the working directory when empty).
type DirSaver struct {
	Dir  string
	Perm os.FileMode
}

// Save writes content atomically: a temp file in the target directory is
// renamed over the destination. Existing files are replaced.
func (d DirSaver) Save(_ context.Context, content []byte, filename string, mime string) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("persist: invalid filename %q", filename)
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir output dir: %w", err)
	}
	perm := d.Perm
	if perm == 0 {
		perm = 0o644
	}
	dst := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename output: %w", err)
	}
	log.Debug().Str("path", dst).Str("mime", mime).Int("bytes", len(content)).Msg("saved document")
	return dst, nil
}

const maxNameRunes = 100

// Filename derives a safe file name from a page title and an extension
// (".md" and friends). Accents are folded away, characters that are unsafe
// in file names become '_', and runs of separators collapse. An empty result
// becomes "page".
func Filename(title, ext string) string {
	base := sanitize(title)
	if base == "" {
		base = "page"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return base + ext
}

func sanitize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingSep := false
	n := 0
	for _, r := range folded {
		if n >= maxNameRunes {
			break
		}
		safe := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.'
		if !safe {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			n++
			pendingSep = false
		}
		b.WriteRune(r)
		n++
	}
	return strings.Trim(b.String(), "._-")
}
