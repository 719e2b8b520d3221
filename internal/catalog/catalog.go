// Package catalog manages the problem catalog.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/store"
)

// SortOrder orders List results.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
	SortTitle  SortOrder = "title"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	// Search matches title or description, case-insensitively.
	Search string
	// Tags must all be present on a problem.
	Tags       []string
	Difficulty domain.Difficulty
	Sort       SortOrder
}

// Catalog stores problems. Problems referenced by a run cannot be deleted.
type Catalog struct {
	DB       *sql.DB
	Problems *store.ProblemRepo
	Runs     *store.RunRepo
	Logger   *slog.Logger
	Now      func() time.Time
}

// New creates a catalog over db.
func New(db *sql.DB, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		DB:       db,
		Problems: &store.ProblemRepo{},
		Runs:     &store.RunRepo{},
		Logger:   logger,
		Now:      time.Now,
	}
}

// Add stores a new problem under a generated id and returns it.
func (c *Catalog) Add(ctx context.Context, p domain.Problem) (*domain.Problem, error) {
	p.ID = "prob-" + uuid.NewString()
	p.CreatedAt = c.Now().UTC().Truncate(time.Millisecond)
	if err := c.insert(ctx, &p); err != nil {
		return nil, err
	}
	c.Logger.Info("problem added", "problem_id", p.ID, "title", p.Title)
	return &p, nil
}

func (c *Catalog) insert(ctx context.Context, p *domain.Problem) error {
	p.Tags = normalizeTags(p.Tags)
	if err := domain.ValidateProblem(*p); err != nil {
		return err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := c.Problems.GetByID(ctx, tx, p.ID); err == nil {
		return domain.WrapError(domain.ErrDuplicateProblem.Code, fmt.Sprintf("problem %s already exists", p.ID), domain.ErrDuplicateProblem)
	} else if !errors.Is(err, domain.ErrProblemNotFound) {
		return err
	}
	if err := c.Problems.CreateTx(ctx, tx, *p); err != nil {
		return domain.WrapError(domain.ErrStoreWrite.Code, "create problem", err)
	}
	return tx.Commit()
}

// Update replaces a problem's content. The id and createdAt never change.
func (c *Catalog) Update(ctx context.Context, p domain.Problem) (*domain.Problem, error) {
	p.Tags = normalizeTags(p.Tags)
	if err := domain.ValidateProblem(p); err != nil {
		return nil, err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := c.Problems.GetByID(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt
	if err := c.Problems.UpdateTx(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &p, nil
}

// Delete removes a problem that no run references.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := c.Runs.CountByProblem(ctx, tx, id)
	if err != nil {
		return domain.WrapError(domain.ErrStoreQuery.Code, "count runs", err)
	}
	if n > 0 {
		return domain.WrapError(domain.ErrProblemInUse.Code,
			fmt.Sprintf("problem %s is referenced by %d runs", id, n), domain.ErrProblemInUse)
	}
	if err := c.Problems.DeleteTx(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.Logger.Info("problem deleted", "problem_id", id)
	return nil
}

// Get returns one problem.
func (c *Catalog) Get(ctx context.Context, id string) (*domain.Problem, error) {
	return c.Problems.GetByID(ctx, c.DB, id)
}

// List returns the problems matching f.
func (c *Catalog) List(ctx context.Context, f Filter) ([]domain.Problem, error) {
	all, err := c.Problems.List(ctx, c.DB)
	if err != nil {
		return nil, err
	}
	switch f.Sort {
	case "", SortNewest, SortOldest, SortTitle:
	default:
		return nil, domain.Validationf("unknown sort order %q", f.Sort)
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Problem, 0, len(all))
	for _, p := range all {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if f.Difficulty != "" && p.Difficulty != f.Difficulty {
			continue
		}
		if !hasAllTags(p.Tags, f.Tags) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		switch f.Sort {
		case SortOldest:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case SortTitle:
			return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
		default:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
	})
	return out, nil
}

// Tags returns every tag in use, sorted and unique.
func (c *Catalog) Tags(ctx context.Context) ([]string, error) {
	all, err := c.Problems.List(ctx, c.DB)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	tags := []string{}
	for _, p := range all {
		for _, t := range p.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func hasAllTags(have, want []string) bool {
	for _, t := range want {
		if !slices.Contains(have, t) {
			return false
		}
	}
	return true
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
