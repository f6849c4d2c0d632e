/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package profiles stores the named launch configurations the bridge can start debug sessions from.
package profiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/debugbridge/internal/debughost"
	"github.com/microsoft/debugbridge/internal/protocol"
)

// File is the on-disk shape of a profiles file:
//
//	profiles:
//	  - name: app
//	    type: go
//	    request: launch
//	    arguments:
//	      program: ./cmd/app
type File struct {
	Profiles []debughost.LaunchConfig `yaml:"profiles"`
}

// Parse reads and validates profiles file content. Profile order is preserved.
func Parse(content []byte) ([]debughost.LaunchConfig, error) {
	var f File
	if unmarshalErr := yaml.Unmarshal(content, &f); unmarshalErr != nil {
		return nil, fmt.Errorf("unable to parse profiles file: %w", unmarshalErr)
	}

	seen := make(map[string]bool, len(f.Profiles))
	for i := range f.Profiles {
		p := &f.Profiles[i]
		if p.Name == "" {
			return nil, fmt.Errorf("profile #%d has no name", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("profile '%s' is defined more than once", p.Name)
		}
		seen[p.Name] = true

		if p.Type == "" {
			return nil, fmt.Errorf("profile '%s' has no debug adapter type", p.Name)
		}
		switch p.Request {
		case "":
			p.Request = debughost.RequestLaunch
		case debughost.RequestLaunch, debughost.RequestAttach:
		default:
			return nil, fmt.Errorf("profile '%s' has invalid request '%s' (expected '%s' or '%s')", p.Name, p.Request, debughost.RequestLaunch, debughost.RequestAttach)
		}
	}

	return f.Profiles, nil
}

// Store holds the profiles loaded from a file. A store without a file is empty.
type Store struct {
	path string

	mu       sync.RWMutex
	profiles []debughost.LaunchConfig
}

// Load creates a store for the given file. A missing file yields an empty store that fills in
// once the file is created (see Watch).
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}
	if _, reloadErr := s.Reload(); reloadErr != nil {
		return nil, reloadErr
	}
	return s, nil
}

// NewStore creates a store holding fixed profiles, not backed by a file.
func NewStore(profiles []debughost.LaunchConfig) *Store {
	return &Store{profiles: slices.Clone(profiles)}
}

func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the profiles file. It reports whether the profiles changed.
// On error the previously loaded profiles are kept.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}

	var loaded []debughost.LaunchConfig
	content, readErr := os.ReadFile(s.path)
	switch {
	case errors.Is(readErr, fs.ErrNotExist):
		loaded = nil
	case readErr != nil:
		return false, fmt.Errorf("failed to read profiles file '%s': %w", s.path, readErr)
	default:
		var parseErr error
		if loaded, parseErr = Parse(content); parseErr != nil {
			return false, fmt.Errorf("'%s': %w", s.path, parseErr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !cmp.Equal(s.profiles, loaded)
	s.profiles = loaded
	return changed, nil
}

func (s *Store) List() []debughost.LaunchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.profiles)
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.profiles))
	for i, p := range s.profiles {
		names[i] = p.Name
	}
	return names
}

func (s *Store) Get(name string) (debughost.LaunchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return debughost.LaunchConfig{}, &protocol.NotFoundError{Kind: "profile", Name: name}
}

// Default returns the first profile.
func (s *Store) Default() (debughost.LaunchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.profiles) == 0 {
		return debughost.LaunchConfig{}, &protocol.NotFoundError{Kind: "profile", Name: "(default)"}
	}
	return s.profiles[0], nil
}
