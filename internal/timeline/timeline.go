// Package timeline stores the per-block channel states computed for an
// audio file, so that later playbacks of the same file can skip analysis.
//
// A timeline is saved next to its audio file as a gzip-compressed CSV file
// with one row per block and one 0 or 1 column per channel. The file is
// named after the audio file only, so renaming the audio file orphans its
// timeline.
package timeline

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"libdb.so/lightshow/internal/lights"
)

var (
	// ErrNotFound is returned by Load when there is no usable timeline. It
	// wraps the reason the timeline could not be used.
	ErrNotFound = errors.New("timeline not found")
	// ErrUnderrun is returned by Lookup for rows past the end of the
	// timeline.
	ErrUnderrun = errors.New("timeline underrun")
)

// Extension is appended to the audio file name to form the timeline name.
const Extension = ".sync.gz"

// PathFor returns the path of the timeline belonging to the given audio
// file: a hidden sibling file named after the audio file.
func PathFor(asset string) string {
	return filepath.Join(filepath.Dir(asset), "."+filepath.Base(asset)+Extension)
}

// Timeline is an ordered list of channel states, one per audio block.
type Timeline struct {
	numChannels int
	rows        []lights.States
}

// New creates an empty timeline for numChannels channels.
func New(numChannels int) *Timeline {
	return &Timeline{numChannels: numChannels}
}

// NumChannels returns the number of channels in each row.
func (t *Timeline) NumChannels() int {
	return t.numChannels
}

// Len returns the number of rows.
func (t *Timeline) Len() int {
	return len(t.rows)
}

// Append appends a copy of the given states as the next row. It panics if
// the states do not have one entry per channel.
func (t *Timeline) Append(s lights.States) {
	if len(s) != t.numChannels {
		panic(fmt.Sprintf("timeline: appending %d states to a %d channel timeline", len(s), t.numChannels))
	}
	t.rows = append(t.rows, s.Clone())
}

// Lookup returns the states of the given row. The returned states must not
// be modified. Rows outside the timeline return ErrUnderrun.
func (t *Timeline) Lookup(row int) (lights.States, error) {
	if row < 0 || row >= len(t.rows) {
		return nil, fmt.Errorf("row %d of %d: %w", row, len(t.rows), ErrUnderrun)
	}
	return t.rows[row], nil
}

// Load reads the timeline at the given path. Any failure, including a
// missing file, a corrupt file or a row that does not have numChannels
// columns of 0 or 1, returns an error wrapping ErrNotFound.
func Load(path string, numChannels int) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, notFound(err)
	}
	defer f.Close()

	t, err := Decode(f, numChannels)
	if err != nil {
		return nil, notFound(fmt.Errorf("%s: %w", path, err))
	}

	return t, nil
}

func notFound(err error) error {
	return fmt.Errorf("%w: %w", ErrNotFound, err)
}

// Decode reads a gzip-compressed timeline from r.
func Decode(r io.Reader, numChannels int) (*Timeline, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	t := New(numChannels)

	cr := csv.NewReader(zr)
	cr.FieldsPerRecord = numChannels
	cr.ReuseRecord = true

	for {
		record, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read row %d: %w", t.Len(), err)
		}

		row := lights.NewStates(numChannels)
		for i, cell := range record {
			switch cell {
			case "1":
				row[i] = true
			case "0":
				row[i] = false
			default:
				return nil, fmt.Errorf("row %d column %d: invalid state %q", t.Len(), i, cell)
			}
		}

		t.rows = append(t.rows, row)
	}

	return t, nil
}

// Encode writes the timeline to w as gzip-compressed CSV.
func (t *Timeline) Encode(w io.Writer) error {
	zw := gzip.NewWriter(w)

	bw := bufio.NewWriter(zw)
	cw := csv.NewWriter(bw)

	record := make([]string, t.numChannels)
	for _, row := range t.rows {
		for i, on := range row {
			if on {
				record[i] = "1"
			} else {
				record[i] = "0"
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush rows: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush rows: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close gzip stream: %w", err)
	}

	return nil
}

// Save writes the timeline to the given path. The timeline is written to a
// temporary file in the same directory first and then renamed into place,
// so a failed save never leaves a partial timeline behind.
func Save(path string, t *Timeline) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()

	if err := t.Encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move timeline into place: %w", err)
	}

	return nil
}
