package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/takameyer/realm.go/internal/codec"
	"github.com/takameyer/realm.go/pkg/models"
)

// fileFormat is the on-disk form of a store. Pending holds local changesets the
// server has not acknowledged yet.
type fileFormat struct {
	Version uint64                       `cbor:"version"`
	Classes []string                     `cbor:"classes"`
	Tables  map[string][]models.Document `cbor:"tables"`
	Pending []Changeset                  `cbor:"pending,omitempty"`
}

// Save writes the current snapshot and the pending changesets to path. The file is
// replaced atomically, so a crash leaves either the old or the new content.
func (s *Store) Save(path string, pending []Changeset) error {
	sn := s.Snapshot()

	ff := fileFormat{
		Version: sn.version,
		Classes: sn.Classes(),
		Tables:  make(map[string][]models.Document),
		Pending: pending,
	}
	for _, class := range ff.Classes {
		rows := sn.Rows(class)
		docs := make([]models.Document, len(rows))
		for i, r := range rows {
			docs[i] = r.Doc
		}
		ff.Tables[class] = docs
	}

	data, err := s.codec.Marshal(ff)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Load reads a store saved with Save. A missing file yields an error matching
// fs.ErrNotExist.
func Load(path string, c codec.Codec) (*Store, []Changeset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var ff fileFormat
	if err := c.Unmarshal(data, &ff); err != nil {
		return nil, nil, fmt.Errorf("decode store %s: %w", path, err)
	}

	s := New(c)
	for _, class := range ff.Classes {
		t := newTable()
		for _, doc := range ff.Tables[class] {
			id, ok := models.DocumentID(doc)
			if !ok {
				return nil, nil, fmt.Errorf("decode store %s: %s row without primary key", path, class)
			}
			raw, normalized, err := s.normalize(doc)
			if err != nil {
				return nil, nil, err
			}
			t.order = append(t.order, id)
			t.rows[id] = &Row{ID: id, Raw: raw, Doc: normalized, Version: ff.Version}
		}
		s.tables[class] = t
	}
	s.version = ff.Version

	return s, ff.Pending, nil
}
