// Package eventstore persists task batches as one JSON object per line and
// keeps an incrementing series of backups of every file it overwrites.
package eventstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3748/slotplanner/internal/distribute"
)

// Store is a JSON-lines event file. Sink receives a copy of the previous
// file before every Save; a nil Sink disables backups.
type Store struct {
	Path string
	Sink Sink

	mu sync.Mutex
}

func New(path string, sink Sink) *Store {
	return &Store{Path: path, Sink: sink}
}

// Load reads every task in the file. A missing file is an empty batch.
func (s *Store) Load() ([]distribute.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []distribute.Task{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLines(f)
}

// Save backs up the current file and then replaces it with tasks. It returns
// the backup name, empty when nothing was backed up.
func (s *Store) Save(ctx context.Context, tasks []distribute.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup, err := s.backup(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteLines(&buf, tasks); err != nil {
		return "", err
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return "", err
	}
	return backup, nil
}

func (s *Store) backup(ctx context.Context) (string, error) {
	if s.Sink == nil {
		return "", nil
	}
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	// A name taken between the lookup and the write is skipped.
	for attempt := 0; attempt < putAttempts; attempt++ {
		name, err := NextBackupName(ctx, s.Sink, filepath.Base(s.Path))
		if err != nil {
			return "", err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		err = s.Sink.Put(ctx, name, f, fi.Size())
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		backupsTotal.Inc()
		return name, nil
	}
	return "", fmt.Errorf("backup names kept being taken after %d attempts", putAttempts)
}

const putAttempts = 5

// ReadLines decodes one task per non-blank line.
func ReadLines(r io.Reader) ([]distribute.Task, error) {
	out := []distribute.Task{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var t distribute.Task
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, t)
	}
	return out, sc.Err()
}

// WriteLines encodes tasks one per line.
func WriteLines(w io.Writer, tasks []distribute.Task) error {
	for _, t := range tasks {
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
