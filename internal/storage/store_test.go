package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	logx "sitewatch/pkg/logx"
)

type opener func(t *testing.T, dir string) Store

func drivers() map[string]opener {
	open := func(driver, name string) opener {
		return func(t *testing.T, dir string) Store {
			t.Helper()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			if err != nil {
				t.Fatalf("open %s: %v", driver, err)
			}
			return st
		}
	}
	return map[string]opener{
		"sqlite": open("sqlite", "state.db"),
		"file":   open("file", "state.json"),
	}
}

func TestJobsClaimFIFOAndDelete(t *testing.T) {
	t.Parallel()

	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t, t.TempDir())
			defer st.Close()

			for _, id := range []string{"a", "b", "c"} {
				if err := st.EnqueueJob(ctx, Job{ID: id, Lane: "alerts", Payload: json.RawMessage(`"` + id + `"`)}); err != nil {
					t.Fatalf("enqueue %s: %v", id, err)
				}
			}
			if err := st.EnqueueJob(ctx, Job{ID: "x", Lane: "pagespeed", Payload: json.RawMessage(`{}`)}); err != nil {
				t.Fatalf("enqueue other lane: %v", err)
			}

			now := time.Now()
			for _, want := range []string{"a", "b", "c"} {
				j, ok, err := st.ClaimNextJob(ctx, "alerts", now)
				if err != nil || !ok {
					t.Fatalf("claim: ok=%v err=%v", ok, err)
				}
				if j.ID != want || j.Status != JobDispatched {
					t.Fatalf("expected %s dispatched, got %+v", want, j)
				}
				if string(j.Payload) != `"`+want+`"` {
					t.Fatalf("payload mismatch: %s", j.Payload)
				}
				if err := st.DeleteJob(ctx, j.ID); err != nil {
					t.Fatalf("delete: %v", err)
				}
			}
			if _, ok, _ := st.ClaimNextJob(ctx, "alerts", now); ok {
				t.Fatalf("expected empty lane")
			}
			n, err := st.CountJobs(ctx, "pagespeed", JobQueued)
			if err != nil || n != 1 {
				t.Fatalf("expected other lane untouched, n=%d err=%v", n, err)
			}
		})
	}
}

func TestPurgeDispatchedLeavesQueued(t *testing.T) {
	t.Parallel()

	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t, t.TempDir())
			defer st.Close()

			_ = st.EnqueueJob(ctx, Job{ID: "1", Lane: "alerts", Payload: json.RawMessage(`1`)})
			_ = st.EnqueueJob(ctx, Job{ID: "2", Lane: "alerts", Payload: json.RawMessage(`2`)})
			if _, _, err := st.ClaimNextJob(ctx, "alerts", time.Now()); err != nil {
				t.Fatalf("claim: %v", err)
			}

			purged, err := st.PurgeDispatched(ctx, "alerts")
			if err != nil {
				t.Fatalf("purge: %v", err)
			}
			if len(purged) != 1 || purged[0].ID != "1" {
				t.Fatalf("unexpected purge result: %+v", purged)
			}
			n, _ := st.CountJobs(ctx, "alerts", JobQueued)
			if n != 1 {
				t.Fatalf("expected one queued job left, got %d", n)
			}
		})
	}
}

func TestDedupAndSnapshots(t *testing.T) {
	t.Parallel()

	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t, t.TempDir())
			defer st.Close()

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "fatal:abc", until); err != nil {
				t.Fatalf("put dedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "fatal:abc")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("get dedup: got=%v ok=%v err=%v", got, ok, err)
			}
			if err := st.DeleteDedup(ctx, "fatal:abc"); err != nil {
				t.Fatalf("delete dedup: %v", err)
			}
			if _, ok, _ := st.GetDedup(ctx, "fatal:abc"); ok {
				t.Fatalf("expected dedup cleared")
			}

			if err := st.PutSnapshot(ctx, "menu:main", []byte(`{"1":"Home"}`)); err != nil {
				t.Fatalf("put snapshot: %v", err)
			}
			data, at, ok, err := st.GetSnapshot(ctx, "menu:main")
			if err != nil || !ok || string(data) != `{"1":"Home"}` || at.IsZero() {
				t.Fatalf("get snapshot: data=%s ok=%v err=%v", data, ok, err)
			}
			if _, _, ok, _ := st.GetSnapshot(ctx, "menu:missing"); ok {
				t.Fatalf("expected missing snapshot")
			}

			if err := st.AppendAudit(ctx, AuditEntry{Lane: "alerts", Kind: "telegram", OK: true}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	t.Parallel()

	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			dir := t.TempDir()

			st := open(t, dir)
			_ = st.EnqueueJob(ctx, Job{ID: "keep", Lane: "alerts", Payload: json.RawMessage(`"x"`)})
			_ = st.PutDedup(ctx, "k", time.Now().Add(time.Hour))
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			st = open(t, dir)
			defer st.Close()
			n, _ := st.CountJobs(ctx, "alerts", JobQueued)
			if n != 1 {
				t.Fatalf("expected queued job after reopen, got %d", n)
			}
			if _, ok, _ := st.GetDedup(ctx, "k"); !ok {
				t.Fatalf("expected dedup after reopen")
			}
		})
	}
}

func TestOpenNoneDisablesStorage(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
