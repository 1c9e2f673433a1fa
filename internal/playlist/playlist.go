// Package playlist reads and updates the tab-separated playlist file and
// picks the next song to play.
//
// Each line holds a song name and a path, optionally followed by a comma
// separated list of voters and a marker that the song is playing:
//
//	name<TAB>path[<TAB>voters[<TAB>playing!]]
package playlist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"libdb.so/lightshow/internal/flock"
	"libdb.so/lightshow/internal/state"
)

// PlayingMarker marks the song picked by votes.
const PlayingMarker = "playing!"

// ErrEmpty is returned when choosing from an empty playlist.
var ErrEmpty = errors.New("playlist is empty")

// Song is one line of the playlist.
type Song struct {
	Name string
	Path string
	// Voted is true if the line has a voters field, even an empty one.
	// Only voted songs that are not playing take part in vote selection.
	Voted bool
	// Voters holds the distinct voters, sorted. An empty name is a voter
	// too, so an empty voters field counts as one vote.
	Voters []string
	// Playing is true if the song was already picked by votes.
	Playing bool
}

// Parse parses a playlist.
func Parse(r io.Reader) ([]Song, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var songs []Song
	for {
		record, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid playlist: %w", err)
		}

		if len(record) < 2 || len(record) > 4 {
			return nil, fmt.Errorf("invalid playlist: line %d has %d fields, want 2 to 4", len(songs)+1, len(record))
		}

		song := Song{Name: record[0], Path: record[1]}
		if len(record) > 2 {
			song.Voted = true
			song.Voters = parseVoters(record[2])
		}
		if len(record) > 3 {
			song.Playing = true
		}

		songs = append(songs, song)
	}

	return songs, nil
}

func parseVoters(field string) []string {
	seen := make(map[string]struct{})
	var voters []string
	for _, v := range strings.Split(field, ",") {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		voters = append(voters, v)
	}
	sort.Strings(voters)
	return voters
}

// Write writes a playlist in the format read by Parse. Songs without
// voters lose their voters field.
func Write(w io.Writer, songs []Song) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	for _, song := range songs {
		record := []string{song.Name, song.Path}
		if len(song.Voters) > 0 || song.Playing {
			record = append(record, strings.Join(song.Voters, ","))
		}
		if song.Playing {
			record = append(record, PlayingMarker)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// MostVoted returns the index of the voted, not yet playing song with the
// most voters. Ties go to the later song. It returns false if no song is
// eligible.
func MostVoted(songs []Song) (int, bool) {
	best := -1
	for i, song := range songs {
		if !song.Voted || song.Playing {
			continue
		}
		if best == -1 || len(song.Voters) >= len(songs[best].Voters) {
			best = i
		}
	}
	return best, best != -1
}

// Reason describes why a song was chosen.
type Reason string

const (
	ByVotes      Reason = "votes"
	ByRandom     Reason = "random"
	ByPlayNow    Reason = "play now"
	BySequential Reason = "sequential"
)

// Choice is the result of Choose.
type Choice struct {
	// Index is the playlist index of the chosen song.
	Index int
	// Reason is why the song was chosen.
	Reason Reason
	// NextSongToPlay is the new value of the state's SongToPlay, or -1 if it
	// stays unchanged.
	NextSongToPlay int
}

// Options configures Choose.
type Options struct {
	// Randomize picks a random song when no song has votes.
	Randomize bool
	// IntN returns a random number in [0, n). Nil uses math/rand/v2.
	IntN func(n int) int
}

// Choose picks the next song. The most voted song wins. Otherwise, a
// random song is picked if randomizing, then the song requested to play
// now, and finally the next song in order.
func Choose(songs []Song, st state.State, opts Options) (Choice, error) {
	if len(songs) == 0 {
		return Choice{}, ErrEmpty
	}

	if i, ok := MostVoted(songs); ok {
		return Choice{Index: i, Reason: ByVotes, NextSongToPlay: -1}, nil
	}

	if opts.Randomize {
		intN := opts.IntN
		if intN == nil {
			intN = rand.IntN
		}
		return Choice{Index: intN(len(songs)), Reason: ByRandom, NextSongToPlay: -1}, nil
	}

	if st.PlayNow > 0 && st.PlayNow <= len(songs) {
		return Choice{Index: st.PlayNow - 1, Reason: ByPlayNow, NextSongToPlay: -1}, nil
	}

	i := st.SongToPlay
	if i < 0 || i > len(songs)-1 {
		i = 0
	}
	next := i + 1
	if next > len(songs)-1 {
		next = 0
	}

	return Choice{Index: i, Reason: BySequential, NextSongToPlay: next}, nil
}

// Playlist is a playlist file on disk.
type Playlist struct {
	Path string
}

// Load reads the playlist under a shared lock.
func (p Playlist) Load() ([]Song, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := flock.Shared(f); err != nil {
		return nil, fmt.Errorf("failed to lock playlist: %w", err)
	}
	defer flock.Unlock(f)

	return Parse(f)
}

// Save rewrites the playlist under an exclusive lock.
func (p Playlist) Save(songs []Song) error {
	f, err := os.OpenFile(p.Path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := flock.Exclusive(f); err != nil {
		return fmt.Errorf("failed to lock playlist: %w", err)
	}
	defer flock.Unlock(f)

	if err := f.Truncate(0); err != nil {
		return err
	}

	return Write(f, songs)
}

// Next chooses the next song from the playlist and records the choice: a
// song chosen by votes is marked as playing in the playlist file, and a
// sequential choice advances the state's next song.
func (p Playlist) Next(sf *state.File, opts Options) (Song, Choice, error) {
	songs, err := p.Load()
	if err != nil {
		return Song{}, Choice{}, err
	}

	st, err := sf.Load()
	if err != nil {
		return Song{}, Choice{}, fmt.Errorf("failed to load state: %w", err)
	}

	choice, err := Choose(songs, st, opts)
	if err != nil {
		return Song{}, Choice{}, err
	}

	switch {
	case choice.Reason == ByVotes:
		// Duplicate lines of the chosen song are marked as well.
		path := songs[choice.Index].Path
		for i := range songs {
			if songs[i].Path == path && songs[i].Voted {
				songs[i].Playing = true
			}
		}
		if err := p.Save(songs); err != nil {
			return Song{}, Choice{}, fmt.Errorf("failed to update playlist: %w", err)
		}
	case choice.NextSongToPlay >= 0:
		if err := sf.Update(func(s *state.State) { s.SongToPlay = choice.NextSongToPlay }); err != nil {
			return Song{}, Choice{}, fmt.Errorf("failed to update state: %w", err)
		}
	}

	return songs[choice.Index], choice, nil
}
