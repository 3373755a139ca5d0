// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFS watches the user and project provider directories for changes
// and re-triggers discovery when a provider.yaml file is created, written,
// or removed. This is a supplement beyond the spec's lazy-discovery-on-
// first-access baseline: it is opt-in (callers must call WatchFS
// explicitly) and never changes the documented lazy/idempotent discovery
// contract on its own — it only causes a future Get/List/Match call to see
// a fresh scan.
func (r *Registry) WatchFS(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for i, root := range []string{r.userRoot, r.projectRoot} {
		if root == "" {
			continue
		}
		toolsDir := filepath.Join(root, "kurt", "tools")
		if i == 0 {
			toolsDir = filepath.Join(root, "tools") // user scope: $HOME/.kurt/tools
		}
		_ = watcher.Add(toolsDir) // best-effort: directory may not exist yet
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.mu.Lock()
					r.discovered = false
					r.mu.Unlock()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
