package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/loader"
)

// Watch invalidates the cache entry of src whenever its file is written,
// replaced or removed. It blocks until ctx is done. The parent directory is
// watched so atomic replace-by-rename is seen too.
func Watch(ctx context.Context, src loader.FileSource, tables *Tables) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(src.Path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", target, err)
	}
	log.Info().Str("path", target).Msg("Watching source for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				tables.Invalidate(src.Key())
				log.Info().Str("path", target).Str("op", ev.Op.String()).Msg("Source changed, cache invalidated")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", target).Msg("Watcher error")
		}
	}
}
