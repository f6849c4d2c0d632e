/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package profiles

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Editors often write a file in several steps; changes are coalesced over this period.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the profiles whenever the file changes and calls onChange with the new profile names.
// It blocks until ctx is done. Reload errors are logged and the previous profiles are kept.
func (s *Store) Watch(ctx context.Context, log logr.Logger, onChange func(names []string)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return fmt.Errorf("failed to create file watcher for profiles file '%s': %w", s.path, watcherErr)
	}
	defer watcher.Close()

	// Watch the directory: the file may not exist yet, and editors commonly replace it instead of writing in place.
	dir := filepath.Dir(s.path)
	if addErr := watcher.Add(dir); addErr != nil {
		return fmt.Errorf("failed to watch folder '%s' for profile changes: %w", dir, addErr)
	}

	target := filepath.Clean(s.path)
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Watch cancellation is a normal condition.
			return nil

		case ev, isOpen := <-watcher.Events:
			if !isOpen {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}

		case watchErr, isOpen := <-watcher.Errors:
			if !isOpen {
				return nil
			}
			log.Error(watchErr, "Profiles file watcher reported an error", "Path", s.path)

		case <-timer.C:
			changed, reloadErr := s.Reload()
			if reloadErr != nil {
				log.Error(reloadErr, "Could not reload profiles, keeping the previous ones")
				continue
			}
			if changed {
				names := s.Names()
				log.Info("Profiles reloaded", "Path", s.path, "Profiles", names)
				if onChange != nil {
					onChange(names)
				}
			}
		}
	}
}
