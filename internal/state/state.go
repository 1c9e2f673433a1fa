// Package state persists the small amount of state shared between the
// light show and the programs that control it, such as which song plays
// next and whether a song was requested to play right now.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/pelletier/go-toml"
	"libdb.so/lightshow/internal/flock"
)

// State is the shared application state.
type State struct {
	// SongToPlay is the 0-based playlist index of the next song to play.
	SongToPlay int `toml:"song_to_play"`
	// PlayNow is the 1-based playlist index of a song requested to play
	// immediately, or 0 if none.
	PlayNow int `toml:"play_now"`
}

// File is a state file on disk. The file is re-read on every access so
// that changes made by other programs are seen.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns the state file at the given path. The file does not need to
// exist.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the path of the state file.
func (f *File) Path() string {
	return f.path
}

// Load reads the current state. A missing file is the zero state.
func (f *File) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load()
}

func (f *File) load() (State, error) {
	var s State

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, err
	}
	defer file.Close()

	if err := flock.Shared(file); err != nil {
		return s, fmt.Errorf("failed to lock state file: %w", err)
	}
	defer flock.Unlock(file)

	if err := toml.NewDecoder(file).Decode(&s); err != nil {
		return s, fmt.Errorf("failed to decode state file: %w", err)
	}

	return s, nil
}

// Update reads the state, applies fn and writes the result back.
func (f *File) Update(fn func(*State)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.load()
	if err != nil {
		return err
	}

	fn(&s)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := flock.Exclusive(file); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer flock.Unlock(file)

	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		return err
	}

	return nil
}

// PlayNowRequested reloads the state and reports whether a song was
// requested to play right now. A state file that cannot be read reports no
// request.
func (f *File) PlayNowRequested() bool {
	s, err := f.Load()
	return err == nil && s.PlayNow != 0
}
