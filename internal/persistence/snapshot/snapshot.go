// Package snapshot writes the world's data groups (grid, input, output) to
// zstd-compressed gob files, one directory per label.
package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/model"
	"github.com/talgya/copan-lpjml/internal/world"
)

// Version of the file layout.
const Version = 1

// Data groups.
const (
	GroupGrid   = "grid"
	GroupInput  = "input"
	GroupOutput = "output"
)

// Header is written as a JSON line before the gob payload.
type Header struct {
	Version int    `json:"version"`
	Group   string `json:"group"`
	Label   string `json:"label"`
	Year    int    `json:"year"`
	Cells   int    `json:"cells"`
	Created int64  `json:"created"` // unix seconds
}

// DatasetV1 is the stored form of a dataset.
type DatasetV1 struct {
	Header Header
	Kind   dataset.Kind
	Year   int
	Cells  int
	Names  []string
	Fields [][]float64
}

// GridV1 is the stored form of a grid.
type GridV1 struct {
	Header Header
	Grid   world.Grid
}

// Store writes snapshots below a root directory.
type Store struct {
	Dir string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the file of a group under a label.
func (s *Store) Path(label, group string) string {
	return filepath.Join(s.Dir, label, group+".gob.zst")
}

// Archive reconciles all pending writes and stores the world's grid, input
// and output under label.
func (s *Store) Archive(ctx context.Context, w *model.World, label string) error {
	if err := w.Sync.Barrier(); err != nil {
		return err
	}
	now := time.Now().Unix()
	in, out := w.Store(dataset.Input), w.Store(dataset.Output)

	var total int64
	for _, job := range []struct {
		group string
		val   any
	}{
		{GroupGrid, &GridV1{
			Header: Header{Version: Version, Group: GroupGrid, Label: label, Cells: w.Grid.Len(), Created: now},
			Grid:   *w.Grid,
		}},
		{GroupInput, fromDataset(in, Header{Version: Version, Group: GroupInput, Label: label, Created: now})},
		{GroupOutput, fromDataset(out, Header{Version: Version, Group: GroupOutput, Label: label, Created: now})},
	} {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := write(s.Path(label, job.group), job.val)
		if err != nil {
			return fmt.Errorf("snapshot %s/%s: %w", label, job.group, err)
		}
		total += n
	}
	slog.Info("snapshot written",
		"label", label,
		"dir", filepath.Join(s.Dir, label),
		"size", humanize.Bytes(uint64(total)),
		"input_year", in.Year,
		"output_year", out.Year,
	)
	return nil
}

// ReadDataset loads a stored input or output group.
func (s *Store) ReadDataset(label, group string) (*dataset.Dataset, error) {
	var rec DatasetV1
	if err := read(s.Path(label, group), &rec); err != nil {
		return nil, err
	}
	return rec.toDataset()
}

// ReadGrid loads a stored grid.
func (s *Store) ReadGrid(label string) (*world.Grid, error) {
	var rec GridV1
	if err := read(s.Path(label, GroupGrid), &rec); err != nil {
		return nil, err
	}
	return &rec.Grid, nil
}

// Labels returns the stored labels.
func (s *Store) Labels() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func fromDataset(ds *dataset.Dataset, h Header) *DatasetV1 {
	h.Year, h.Cells = ds.Year, ds.Cells()
	rec := &DatasetV1{Header: h, Kind: ds.Kind, Year: ds.Year, Cells: ds.Cells(), Names: ds.FieldNames()}
	for _, name := range rec.Names {
		vals, _ := ds.Field(name)
		rec.Fields = append(rec.Fields, vals)
	}
	return rec
}

func (r *DatasetV1) toDataset() (*dataset.Dataset, error) {
	if len(r.Names) != len(r.Fields) {
		return nil, fmt.Errorf("snapshot: %d names for %d fields", len(r.Names), len(r.Fields))
	}
	ds := dataset.New(r.Kind, r.Cells)
	ds.Year = r.Year
	for i, name := range r.Names {
		if err := ds.AddField(name, r.Fields[i]); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// write encodes v after a header line and returns the compressed size.
func write(path string, v any) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	var h Header
	switch rec := v.(type) {
	case *DatasetV1:
		h = rec.Header
	case *GridV1:
		h = rec.Header
	}
	hb, _ := json.Marshal(h)
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return 0, err
	}
	if err := gob.NewEncoder(bw).Encode(v); err != nil {
		enc.Close()
		return 0, fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func read(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob payload repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}
