package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CollectionRepositoryPG resolves asset collections for batch fan-out. Items
// come back in their stored position so batch assignments are deterministic.
type CollectionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCollectionRepository creates a collection resolver backed by PostgreSQL.
func NewCollectionRepository(pool *pgxpool.Pool) *CollectionRepositoryPG {
	return &CollectionRepositoryPG{pool: pool}
}

// Items returns the ordered item URLs of one collection. A missing or empty
// collection yields an empty slice, not an error; emptiness is judged by the
// caller across all requested collections.
func (r *CollectionRepositoryPG) Items(ctx context.Context, collectionID string) ([]string, error) {
	query := `
SELECT url
FROM collection_items
WHERE collection_id = $1
ORDER BY position ASC, created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}
