package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/evolab/evolab/internal/domain"
)

func TestLogRepo_AppendAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedRun(t, db, "run-1", "sess-1", domain.StateRunning, 0)
	repo := &LogRepo{}
	now := time.Now().UTC()
	gen := 0

	entries := []domain.LogEntry{
		{ID: "log-2", RunID: "run-1", Type: domain.LogInfo, Message: "second", Timestamp: now.Add(time.Second)},
		{ID: "log-1", RunID: "run-1", Type: domain.LogInfo, Message: "first", Timestamp: now},
		{ID: "log-3", RunID: "run-1", Type: domain.LogSuccess, Message: "tie", Timestamp: now.Add(time.Second), Generation: &gen},
	}
	inTx(t, db, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := repo.AppendTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})

	got, err := repo.ListByRun(ctx, db, "run-1", 0)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Ordered by timestamp; the tie keeps insertion order.
	if got[0].ID != "log-1" || got[1].ID != "log-2" || got[2].ID != "log-3" {
		t.Errorf("order = %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].Generation == nil || *got[2].Generation != 0 {
		t.Errorf("generation not restored: %v", got[2].Generation)
	}
	if got[0].Generation != nil {
		t.Errorf("generation = %v, want nil", *got[0].Generation)
	}

	since, err := repo.ListByRun(ctx, db, "run-1", got[0].Seq)
	if err != nil {
		t.Fatalf("ListByRun since: %v", err)
	}
	if len(since) != 2 || since[0].ID != "log-2" || since[1].ID != "log-3" {
		t.Errorf("since first = %+v, want log-2 log-3", since)
	}

	// log-2 was inserted before log-1, so a Seq cursor on it must still
	// return the entries that sort after it.
	tail, err := repo.ListByRun(ctx, db, "run-1", got[1].Seq)
	if err != nil {
		t.Fatalf("ListByRun tail: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != "log-3" {
		t.Errorf("tail = %+v, want only log-3", tail)
	}
}

func TestMetricsRepo_OneRecordPerGeneration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedRun(t, db, "run-1", "sess-1", domain.StateRunning, 0)
	repo := &MetricsRepo{}
	now := time.Now()

	inTx(t, db, func(tx *sql.Tx) error {
		for g := 2; g >= 0; g-- {
			m := domain.EvolutionMetrics{RunID: "run-1", Generation: g, BestFitness: float64(g) / 2, TotalIndividuals: 4, Timestamp: now}
			if err := repo.InsertTx(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})

	got, err := repo.ListByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	for i, m := range got {
		if m.Generation != i {
			t.Errorf("got[%d].Generation = %d", i, m.Generation)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := repo.InsertTx(ctx, tx, domain.EvolutionMetrics{RunID: "run-1", Generation: 1, Timestamp: now}); err == nil {
		t.Error("duplicate generation should be rejected")
	}
}

func TestSnapshotRepo_SeqAndLatest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedRun(t, db, "run-1", "sess-1", domain.StateRunning, 0)
	repo := &SnapshotRepo{}

	latest, err := repo.GetLatest(ctx, db, "run-1")
	if err != nil || latest != nil {
		t.Fatalf("GetLatest on empty = %v, %v", latest, err)
	}

	triggers := []domain.Trigger{domain.TriggerStarted, domain.TriggerPaused, domain.TriggerResumed}
	inTx(t, db, func(tx *sql.Tx) error {
		for i, tr := range triggers {
			seq, err := repo.SaveTx(ctx, tx, domain.StatusSnapshot{
				RunID:     "run-1",
				Trigger:   tr,
				Status:    domain.EvolutionStatus{State: domain.StateRunning, DiversityIndex: 1},
				Checksum:  "abc",
				CreatedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			if seq != int64(i+1) {
				t.Errorf("seq = %d, want %d", seq, i+1)
			}
		}
		return nil
	})

	latest, err = repo.GetLatest(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.Trigger != domain.TriggerResumed || latest.Seq != 3 {
		t.Errorf("latest = %+v", latest)
	}

	all, err := repo.ListByRun(ctx, db, "run-1")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListByRun = %d, %v", len(all), err)
	}
	if all[0].Status.DiversityIndex != 1 {
		t.Errorf("status not restored: %+v", all[0].Status)
	}
}
