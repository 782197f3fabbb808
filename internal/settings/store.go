package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"
)

// DefaultFileName is the dot-file created in the user's home directory.
const DefaultFileName = ".tabscribe.yaml"

// Source hands out settings snapshots.
type Source interface {
	Load() (Settings, error)
}

// DefaultPath returns ~/.tabscribe.yaml, or the bare file name when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

const template = `# tabscribe settings
apiKey: ""
model: mistral-ocr-latest
language: ""
# markdown | text | json | pdf
outputFormat: markdown
debug: false
`

// FileStore keeps settings in a YAML file. Other top-level sections of the
// file are preserved on Save. Subscribers are notified after every Save and
// whenever Watch sees the file change.
type FileStore struct {
	Path string

	mu      sync.Mutex
	nextID  int
	subs    map[int]func(Settings)
	modTime time.Time
}

// NewFileStore returns a store for path (DefaultPath when empty).
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStore{Path: path}
}

// EnsureTemplate writes a commented template when the file does not exist.
func (s *FileStore) EnsureTemplate() error {
	if _, err := os.Stat(s.Path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, []byte(template), 0o600); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	log.Info().Str("path", s.Path).Msg("created settings template")
	return nil
}

// Load reads the file. A missing file yields Defaults.
func (s *FileStore) Load() (Settings, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	var st Settings
	if err := yaml.Unmarshal(b, &st); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return st.Normalized(), nil
}

// Save writes st into the file, keeping unrelated keys, then notifies subscribers.
func (s *FileStore) Save(st Settings) error {
	st = st.Normalized()
	doc := map[string]any{}
	if b, err := os.ReadFile(s.Path); err == nil {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	doc["apiKey"] = st.APIKey
	doc["model"] = st.Model
	doc["language"] = st.Language
	doc["outputFormat"] = string(st.OutputFormat)
	doc["debug"] = st.Debug

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return err
	}
	s.recordModTime()
	s.notify(st)
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *FileStore) Subscribe(fn func(Settings)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(Settings){}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *FileStore) notify(st Settings) {
	s.mu.Lock()
	fns := make([]func(Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Watch notifies subscribers when the file changes on disk until ctx is
// done. The parent directory is watched so editors that replace the file
// are seen too. When no watch can be set up it polls every interval.
func (s *FileStore) Watch(ctx context.Context, interval time.Duration) {
	s.recordModTime()
	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err = w.Add(filepath.Dir(s.Path)); err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("path", s.Path).Msg("file watch unavailable, polling settings")
		s.pollEvery(ctx, interval)
		return
	}
	defer w.Close()
	s.watch(ctx, w)
}

func (s *FileStore) watch(ctx context.Context, w *fsnotify.Watcher) {
	target := filepath.Clean(s.Path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			s.poll()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", s.Path).Msg("settings watch error")
		}
	}
}

func (s *FileStore) pollEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.poll()
		}
	}
}

func (s *FileStore) recordModTime() {
	if info, err := os.Stat(s.Path); err == nil {
		s.mu.Lock()
		s.modTime = info.ModTime()
		s.mu.Unlock()
	}
}

// poll reloads and notifies when the modification time moved. Saves record
// their own mtime, so they are not reported twice.
func (s *FileStore) poll() {
	info, err := os.Stat(s.Path)
	if err != nil {
		return
	}
	s.mu.Lock()
	changed := !info.ModTime().Equal(s.modTime)
	s.modTime = info.ModTime()
	s.mu.Unlock()
	if !changed {
		return
	}
	st, err := s.Load()
	if err != nil {
		log.Warn().Err(err).Str("path", s.Path).Msg("settings reload failed")
		return
	}
	s.notify(st)
}

// Static is a Source that always returns the same settings.
type Static Settings

func (s Static) Load() (Settings, error) { return Settings(s).Normalized(), nil }

// Overlay applies non-empty fields of Over on top of every snapshot from
// Base. Command line flags and environment variables reach the processor
// this way while the file stays the source of everything else.
type Overlay struct {
	Base Source
	Over Settings
}

func (o Overlay) Load() (Settings, error) {
	st := Defaults()
	if o.Base != nil {
		var err error
		if st, err = o.Base.Load(); err != nil {
			return Settings{}, err
		}
	}
	if o.Over.APIKey != "" {
		st.APIKey = o.Over.APIKey
	}
	if o.Over.Model != "" {
		st.Model = o.Over.Model
	}
	if o.Over.Language != "" {
		st.Language = o.Over.Language
	}
	if o.Over.OutputFormat != "" {
		st.OutputFormat = o.Over.OutputFormat
	}
	if o.Over.Debug {
		st.Debug = true
	}
	return st.Normalized(), nil
}
