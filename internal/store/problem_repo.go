package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evolab/evolab/internal/domain"
)

// ProblemRepo handles persistence for Problem records.
type ProblemRepo struct{}

const problemColumns = `problem_id, title, description, function_signature, test_cases_json, constraints, tags_json, difficulty, created_at`

// CreateTx inserts a new problem within an existing transaction.
func (r *ProblemRepo) CreateTx(ctx context.Context, tx *sql.Tx, p domain.Problem) error {
	args, err := problemArgs(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO problems (` + problemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("create problem: %w", err)
	}
	return nil
}

// UpdateTx rewrites every mutable field of a problem. The id and createdAt are kept.
func (r *ProblemRepo) UpdateTx(ctx context.Context, tx *sql.Tx, p domain.Problem) error {
	testCases, err := marshalColumn(p.TestCases)
	if err != nil {
		return fmt.Errorf("encode test cases: %w", err)
	}
	tags, err := marshalColumn(nonNilTags(p.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	const q = `UPDATE problems SET
		title = ?,
		description = ?,
		function_signature = ?,
		test_cases_json = ?,
		constraints = ?,
		tags_json = ?,
		difficulty = ?
	WHERE problem_id = ?`
	res, err := tx.ExecContext(ctx, q,
		p.Title, p.Description, p.FunctionSignature, testCases, p.Constraints, tags, string(p.Difficulty), p.ID)
	if err != nil {
		return fmt.Errorf("update problem: %w", err)
	}
	return expectOne(res, domain.ErrProblemNotFound)
}

// DeleteTx removes a problem.
func (r *ProblemRepo) DeleteTx(ctx context.Context, tx *sql.Tx, problemID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM problems WHERE problem_id = ?`, problemID)
	if err != nil {
		return fmt.Errorf("delete problem: %w", err)
	}
	return expectOne(res, domain.ErrProblemNotFound)
}

// GetByID retrieves a problem by its ID.
func (r *ProblemRepo) GetByID(ctx context.Context, q Querier, problemID string) (*domain.Problem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE problem_id = ?`, problemID)
	p, err := scanProblem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProblemNotFound
		}
		return nil, fmt.Errorf("get problem: %w", err)
	}
	return p, nil
}

// List returns all problems, newest first.
func (r *ProblemRepo) List(ctx context.Context, q Querier) ([]domain.Problem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems ORDER BY created_at DESC, problem_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	problems := []domain.Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		problems = append(problems, *p)
	}
	return problems, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*domain.Problem, error) {
	var p domain.Problem
	var testCases, tags, difficulty string
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.FunctionSignature,
		&testCases, &p.Constraints, &tags, &difficulty, &createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(testCases, &p.TestCases); err != nil {
		return nil, fmt.Errorf("decode test cases: %w", err)
	}
	if err := unmarshalColumn(tags, &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	p.Tags = nonNilTags(p.Tags)
	p.Difficulty = domain.Difficulty(difficulty)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func problemArgs(p domain.Problem) ([]any, error) {
	testCases, err := marshalColumn(p.TestCases)
	if err != nil {
		return nil, fmt.Errorf("encode test cases: %w", err)
	}
	tags, err := marshalColumn(nonNilTags(p.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return []any{p.ID, p.Title, p.Description, p.FunctionSignature, testCases,
		p.Constraints, tags, string(p.Difficulty), toMillis(p.CreatedAt)}, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
