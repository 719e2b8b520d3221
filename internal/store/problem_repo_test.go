package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/evolab/evolab/internal/domain"
)

func sampleProblem(id string, createdAt time.Time) domain.Problem {
	return domain.Problem{
		ID:                id,
		Title:             "Sort Array",
		Description:       "Sort integers ascending.",
		FunctionSignature: "def sort_array(arr: list[int]) -> list[int]:",
		TestCases: []domain.TestCase{
			{Input: "[3, 1, 2]", ExpectedOutput: "[1, 2, 3]"},
			{Input: "[]", ExpectedOutput: "[]"},
		},
		Tags:       []string{"sorting", "arrays"},
		Difficulty: domain.DifficultyEasy,
		CreatedAt:  createdAt,
	}
}

func TestProblemRepo_CreateGetUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &ProblemRepo{}
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	inTx(t, db, func(tx *sql.Tx) error {
		return repo.CreateTx(ctx, tx, sampleProblem("prob-1", created))
	})

	got, err := repo.GetByID(ctx, db, "prob-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Sort Array" || len(got.TestCases) != 2 || len(got.Tags) != 2 {
		t.Errorf("unexpected problem: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	got.Title = "Sort Array Fast"
	got.Tags = nil
	inTx(t, db, func(tx *sql.Tx) error { return repo.UpdateTx(ctx, tx, *got) })

	got, err = repo.GetByID(ctx, db, "prob-1")
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if got.Title != "Sort Array Fast" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("Tags = %#v, want empty slice", got.Tags)
	}
}

func TestProblemRepo_NotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &ProblemRepo{}

	if _, err := repo.GetByID(ctx, db, "missing"); !errors.Is(err, domain.ErrProblemNotFound) {
		t.Errorf("GetByID err = %v, want ErrProblemNotFound", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := repo.DeleteTx(ctx, tx, "missing"); !errors.Is(err, domain.ErrProblemNotFound) {
		t.Errorf("DeleteTx err = %v, want ErrProblemNotFound", err)
	}
}

func TestProblemRepo_ListNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &ProblemRepo{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	inTx(t, db, func(tx *sql.Tx) error {
		for i, id := range []string{"prob-1", "prob-2", "prob-3"} {
			if err := repo.CreateTx(ctx, tx, sampleProblem(id, base.AddDate(0, 0, i))); err != nil {
				return err
			}
		}
		return nil
	})

	list, err := repo.List(ctx, db)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].ID != "prob-3" || list[2].ID != "prob-1" {
		t.Errorf("unexpected order: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
}
