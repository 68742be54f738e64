package hotreload

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/logging"
)

// Topic carries one message per debounced batch and change kind. The
// payload is a JSON array of changed paths; metadata "kind" holds the
// ChangeKind.
const Topic = "fs.changes"

const kindKey = "kind"

// NewPubSub returns the in-process channel the watcher and relay share.
func NewPubSub(log zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, NewLoggerAdapter(log))
}

type Watcher struct {
	fsw      *fsnotify.Watcher
	pub      message.Publisher
	debounce time.Duration
	log      zerolog.Logger
}

// NewWatcher watches every directory under paths. Missing paths are
// skipped with a warning; at least one must exist.
func NewWatcher(paths []string, debounce time.Duration, pub message.Publisher) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		pub:      pub,
		debounce: debounce,
		log:      logging.Component("hotreload"),
	}

	watched := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			w.log.Warn().Str("path", p).Err(err).Msg("skipping watch path")
			continue
		}
		if err := w.addTree(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return nil, fmt.Errorf("no watchable paths in %v", paths)
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run collects file changes and publishes them once the tree has been
// quiet for the debounce interval. It returns when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]ChangeKind)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn().Err(err).Str("path", ev.Name).Msg("watch new directory")
					}
					continue
				}
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			pending[ev.Name] = Classify(ev.Name)
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")
		case <-timer.C:
			w.flush(pending)
			pending = make(map[string]ChangeKind)
		}
	}
}

func (w *Watcher) flush(pending map[string]ChangeKind) {
	byKind := make(map[ChangeKind][]string)
	for path, kind := range pending {
		byKind[kind] = append(byKind[kind], path)
	}
	for kind, paths := range byKind {
		sort.Strings(paths)
		payload, err := json.Marshal(paths)
		if err != nil {
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(kindKey, string(kind))
		if err := w.pub.Publish(Topic, msg); err != nil {
			w.log.Error().Err(err).Msg("publish change")
			continue
		}
		w.log.Info().Str("kind", string(kind)).Strs("paths", paths).Msg("files changed")
	}
}
