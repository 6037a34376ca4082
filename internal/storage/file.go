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

	logx "sitewatch/pkg/logx"
)

// fileStore keeps all state in memory and persists it as:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.state.json     (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only mutations since the snapshot)
//
// The journal is compacted into the snapshot on open and every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile   *os.File
	statePath   string
	journalFile *os.File

	st     fileState
	writes int
}

const compactEvery = 500

type fileState struct {
	Seq       int64                   `json:"seq"`
	Jobs      map[string]fileJob      `json:"jobs"`
	Dedup     map[string]int64        `json:"dedup"` // unix milli
	Snapshots map[string]fileSnapshot `json:"snapshots"`
}

type fileJob struct {
	Job
	Seq int64 `json:"seq"`
}

type fileSnapshot struct {
	Data      []byte `json:"data"`
	UpdatedAt int64  `json:"updated_at"`
}

type journalOp string

const (
	opJobPut   journalOp = "job_put"
	opJobDel   journalOp = "job_del"
	opDedupPut journalOp = "dedup_put"
	opDedupDel journalOp = "dedup_del"
	opSnapPut  journalOp = "snap_put"
)

type journalRecord struct {
	Op    journalOp     `json:"op"`
	Key   string        `json:"key"`
	Until int64         `json:"until,omitempty"`
	Job   *fileJob      `json:"job,omitempty"`
	Snap  *fileSnapshot `json:"snap,omitempty"`
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

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := newFileState()
	statePath := prefix + ".state.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadState(statePath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayJournal(journalPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{log: log, auditFile: af, statePath: statePath, journalFile: jf, st: st}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Debug("state compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
}

func newFileState() fileState {
	return fileState{
		Jobs:      map[string]fileJob{},
		Dedup:     map[string]int64{},
		Snapshots: map[string]fileSnapshot{},
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		errs = append(errs, s.compactLocked(), s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

// writeLocked applies rec in memory and journals it.
func (s *fileStore) writeLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	applyRecord(&s.st, rec)
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func applyRecord(st *fileState, rec journalRecord) {
	switch rec.Op {
	case opJobPut:
		if rec.Job != nil {
			st.Jobs[rec.Key] = *rec.Job
			if rec.Job.Seq > st.Seq {
				st.Seq = rec.Job.Seq
			}
		}
	case opJobDel:
		delete(st.Jobs, rec.Key)
	case opDedupPut:
		st.Dedup[rec.Key] = rec.Until
	case opDedupDel:
		delete(st.Dedup, rec.Key)
	case opSnapPut:
		if rec.Snap != nil {
			st.Snapshots[rec.Key] = *rec.Snap
		}
	}
}

func (s *fileStore) EnqueueJob(ctx context.Context, j Job) error {
	_ = ctx
	if j.ID == "" || j.Lane == "" {
		return errors.New("job id and lane are required")
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	j.Status = JobQueued

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.st.Jobs[j.ID]; exists {
		return errors.New("duplicate job id: " + j.ID)
	}
	fj := fileJob{Job: j, Seq: s.st.Seq + 1}
	return s.writeLocked(journalRecord{Op: opJobPut, Key: j.ID, Job: &fj})
}

func (s *fileStore) ClaimNextJob(ctx context.Context, lane string, now time.Time) (Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		next  fileJob
		found bool
	)
	for _, fj := range s.st.Jobs {
		if fj.Lane != lane || fj.Status != JobQueued {
			continue
		}
		if !found || fj.Seq < next.Seq {
			next, found = fj, true
		}
	}
	if !found {
		return Job{}, false, nil
	}
	next.Status = JobDispatched
	next.DispatchedAt = now
	if err := s.writeLocked(journalRecord{Op: opJobPut, Key: next.ID, Job: &next}); err != nil {
		return Job{}, false, err
	}
	return next.Job, true, nil
}

func (s *fileStore) DeleteJob(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Jobs[id]; !ok {
		return nil
	}
	return s.writeLocked(journalRecord{Op: opJobDel, Key: id})
}

func (s *fileStore) CountJobs(ctx context.Context, lane string, status JobStatus) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fj := range s.st.Jobs {
		if fj.Lane == lane && fj.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) PurgeDispatched(ctx context.Context, lane string) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []fileJob
	for _, fj := range s.st.Jobs {
		if fj.Lane == lane && fj.Status == JobDispatched {
			stale = append(stale, fj)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Seq < stale[j].Seq })

	out := make([]Job, 0, len(stale))
	for _, fj := range stale {
		if err := s.writeLocked(journalRecord{Op: opJobDel, Key: fj.ID}); err != nil {
			return out, err
		}
		out = append(out, fj.Job)
	}
	return out, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opDedupPut, Key: key, Until: until.UnixMilli()})
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.st.Dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) DeleteDedup(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Dedup[key]; !ok {
		return nil
	}
	return s.writeLocked(journalRecord{Op: opDedupDel, Key: key})
}

func (s *fileStore) PutSnapshot(ctx context.Context, key string, data []byte) error {
	_ = ctx
	if key == "" {
		return errors.New("snapshot key is required")
	}
	snap := fileSnapshot{Data: append([]byte(nil), data...), UpdatedAt: time.Now().UnixMilli()}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(journalRecord{Op: opSnapPut, Key: key, Snap: &snap})
}

func (s *fileStore) GetSnapshot(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.st.Snapshots[key]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return append([]byte(nil), snap.Data...), time.UnixMilli(snap.UpdatedAt), true, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.st.Dedup)

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadState(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	out.Seq = st.Seq
	for k, v := range st.Jobs {
		out.Jobs[k] = v
	}
	for k, v := range st.Dedup {
		out.Dedup[k] = v
	}
	for k, v := range st.Snapshots {
		out.Snapshots[k] = v
	}
	return nil
}

func replayJournal(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Torn tail write after a crash.
			continue
		}
		if rec.Key == "" {
			continue
		}
		applyRecord(out, rec)
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
