package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evolab/evolab/internal/domain"
)

// seedFile is the YAML layout of a catalog seed.
type seedFile struct {
	Problems []domain.Problem `yaml:"problems"`
}

// LoadSeed inserts the problems of a YAML seed file. Problems whose id already
// exists are skipped, so loading the same seed twice is harmless. It returns
// the number of problems added.
func (c *Catalog) LoadSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, domain.WrapError(domain.ErrValidation.Code, "parse seed "+path, err)
	}

	added := 0
	for i, p := range seed.Problems {
		if p.ID == "" {
			return added, domain.Validationf("seed problem %d has no id", i)
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = c.Now()
		}
		p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)
		err := c.insert(ctx, &p)
		if errors.Is(err, domain.ErrDuplicateProblem) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("seed problem %s: %w", p.ID, err)
		}
		added++
	}
	c.Logger.Info("catalog seed loaded", "path", path, "added", added, "total", len(seed.Problems))
	return added, nil
}
