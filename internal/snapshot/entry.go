package snapshot

import (
	"encoding/json"
	"time"
)

// Entry is one record of a snapshot. Files have no Contents; folders always
// have at least one entry in Contents, except the root which may be empty.
type Entry struct {
	Folder    bool
	Name      string
	Path      string
	Timestamp *int64
	Contents  []*Entry
}

func (e *Entry) IsRoot() bool {
	return e.Folder && e.Path == ""
}

type fileRecord struct {
	Folder    bool   `json:"folder" yaml:"folder"`
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"path" yaml:"path"`
	Timestamp *int64 `json:"timestamp" yaml:"timestamp"`
}

type folderRecord struct {
	Folder    bool     `json:"folder" yaml:"folder"`
	Name      *string  `json:"name" yaml:"name"`
	Path      string   `json:"path" yaml:"path"`
	Contents  []*Entry `json:"contents" yaml:"contents"`
	Timestamp *int64   `json:"timestamp" yaml:"timestamp"`
}

// record is the wire form clients expect: files carry no contents key and
// the root folder has a null name.
func (e *Entry) record() any {
	if !e.Folder {
		return fileRecord{
			Name:      e.Name,
			Path:      e.Path,
			Timestamp: e.Timestamp,
		}
	}

	rec := folderRecord{
		Folder:    true,
		Path:      e.Path,
		Contents:  e.Contents,
		Timestamp: e.Timestamp,
	}
	if !e.IsRoot() {
		rec.Name = &e.Name
	}
	if rec.Contents == nil {
		rec.Contents = []*Entry{}
	}
	return rec
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.record())
}

func (e *Entry) MarshalYAML() (any, error) {
	return e.record(), nil
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var rec struct {
		Folder    bool     `json:"folder"`
		Name      *string  `json:"name"`
		Path      string   `json:"path"`
		Contents  []*Entry `json:"contents"`
		Timestamp *int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	*e = Entry{
		Folder:    rec.Folder,
		Path:      rec.Path,
		Timestamp: rec.Timestamp,
		Contents:  rec.Contents,
	}
	if rec.Name != nil {
		e.Name = *rec.Name
	}
	return nil
}

// Count returns the number of folder and file records below e.
func (e *Entry) Count() (folders, files int) {
	for _, c := range e.Contents {
		if !c.Folder {
			files++
			continue
		}
		fo, fi := c.Count()
		folders += fo + 1
		files += fi
	}
	return folders, files
}

func millis(ts *time.Time) *int64 {
	if ts == nil {
		return nil
	}
	v := ts.UnixMilli()
	return &v
}
