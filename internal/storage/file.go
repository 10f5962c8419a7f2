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

	"castbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl (append-only JSON Lines)
//   - <prefix>.runs.jsonl       (append-only; the last line per run ID wins)
//
// Run summaries are indexed in memory on open; deliveries are write-only.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveries *os.File
	runsFile   *os.File
	runs       map[string]Run
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	df, err := os.OpenFile(prefix+".deliveries.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	runs := map[string]Run{}
	if err := replayRuns(runsPath, runs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run ledger replay failed", logx.String("path", runsPath), logx.Err(err))
	}

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{log: log, deliveries: df, runsFile: rf, runs: runs}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveries != nil {
		err1 = s.deliveries.Close()
		s.deliveries = nil
	}
	if s.runsFile != nil {
		err2 = s.runsFile.Close()
		s.runsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) RecordDelivery(ctx context.Context, d Delivery) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return errors.New("delivery ledger closed")
	}
	return json.NewEncoder(s.deliveries).Encode(d)
}

func (s *fileStore) RecordRun(ctx context.Context, r Run) error {
	_ = ctx
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run ledger closed")
	}
	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return err
	}
	s.runs[r.ID] = r
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func replayRuns(path string, out map[string]Run) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		out[r.ID] = r
	}
	return sc.Err()
}
