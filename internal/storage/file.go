package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bulksender/internal/dispatch"
	logx "bulksender/pkg/logx"
)

// fileStore appends one JSON line per dispatch to <prefix>.dispatches.jsonl
// and keeps the whole history in memory. Prune compacts the file through a
// temp file and rename.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	f    *os.File
	recs []dispatch.Record // oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	histPath := filepath.Join(dir, base) + ".dispatches.jsonl"

	recs, err := replayHistory(histPath, log)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(histPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file history opened", logx.String("path", histPath), logx.Int("records", len(recs)))
	return &fileStore{log: log, path: histPath, f: f, recs: recs}, nil
}

func replayHistory(path string, log logx.Logger) ([]dispatch.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []dispatch.Record
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 16<<20)
	for s.Scan() {
		var rec dispatch.Record
		if err := json.Unmarshal(s.Bytes(), &rec); err != nil || rec.ID == "" {
			// torn tail from a crash
			log.Debug("skipping unreadable history line", logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, s.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Record(ctx context.Context, rec dispatch.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.f).Encode(rec); err != nil {
		return err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]dispatch.Record, error) {
	_ = ctx
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dispatch.Record, 0, min(limit, len(s.recs)))
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (dispatch.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recs) - 1; i >= 0; i-- {
		if s.recs[i].ID == id {
			return s.recs[i], nil
		}
	}
	return dispatch.Record{}, ErrNotFound
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("history file closed")
	}

	keep := make([]dispatch.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		if !rec.CreatedAt.Before(before) {
			keep = append(keep, rec)
		}
	}
	dropped := len(s.recs) - len(keep)
	if dropped == 0 {
		return 0, nil
	}
	if err := s.rewriteLocked(keep); err != nil {
		return 0, err
	}
	s.recs = keep
	return dropped, nil
}

func (s *fileStore) rewriteLocked(recs []dispatch.Record) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	// Reopen: the old descriptor points at the replaced inode.
	_ = s.f.Close()
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	return nil
}
