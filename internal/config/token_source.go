package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TokenSource provides the current bearer credential. File-backed sources
// can pick up a rotated credential without restarting the process; the
// credential value itself is never logged.
type TokenSource struct {
	mu    sync.RWMutex
	token string
	path  string
}

func StaticTokenSource(token string) *TokenSource {
	return &TokenSource{token: strings.TrimSpace(token)}
}

// FileTokenSource reads the credential from path. An unreadable or empty
// file is an error so startup fails before any network activity.
func FileTokenSource(path string) (*TokenSource, error) {
	ts := &TokenSource{path: filepath.Clean(path)}
	if _, err := ts.Reload(); err != nil {
		return nil, err
	}
	if ts.Token() == "" {
		return nil, fmt.Errorf("token file %s is empty", path)
	}
	return ts, nil
}

func (t *TokenSource) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Reload re-reads the backing file and reports whether the credential
// changed. No-op for static sources.
func (t *TokenSource) Reload() (bool, error) {
	if t.path == "" {
		return false, nil
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return false, err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return false, fmt.Errorf("token file %s is empty", t.path)
	}
	t.mu.Lock()
	changed := token != t.token
	t.token = token
	t.mu.Unlock()
	return changed, nil
}

// Watch re-reads the backing file whenever it changes and calls onChange
// after each successful reload that produced a new credential. Returns
// immediately for static sources; otherwise blocks until ctx is cancelled.
func (t *TokenSource) Watch(ctx context.Context, logger zerolog.Logger, onChange func()) error {
	if t.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory: editors and secret managers typically replace
	// the file rather than writing it in place.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			changed, err := t.Reload()
			if err != nil {
				logger.Warn().Err(err).Msg("token file reload failed, keeping previous credential")
				continue
			}
			if changed {
				logger.Info().Msg("credential rotated")
				if onChange != nil {
					onChange()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("token file watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
