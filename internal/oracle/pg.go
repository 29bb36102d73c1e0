// internal/oracle/pg.go
package oracle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads the question bank from postgres. It is an alternative to
// the JSON file source for deployments that maintain the bank centrally.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository opens a connection pool against databaseURL.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("oracle: create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("oracle: ping pg: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close releases the pool.
func (r *Repository) Close() { r.pool.Close() }

// Questions fetches the full bank.
func (r *Repository) Questions(ctx context.Context) ([]Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, generation, tags,
		       stat_hp, stat_atk, stat_def, stat_spa, stat_spd, stat_spe,
		       fully_evolved, mega
		FROM questions`)
	if err != nil {
		return nil, fmt.Errorf("oracle: query questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(
			&q.ID, &q.Name, &q.Generation, &q.Tags,
			&q.Stats[0], &q.Stats[1], &q.Stats[2],
			&q.Stats[3], &q.Stats[4], &q.Stats[5],
			&q.FullyEvolved, &q.Mega,
		); err != nil {
			return nil, fmt.Errorf("oracle: scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("oracle: iterate questions: %w", err)
	}
	return questions, nil
}
