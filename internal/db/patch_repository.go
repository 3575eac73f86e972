package db

import (
	"context"
	"fmt"

	"github.com/udisondev/wowcore/internal/model"
)

// PatchRepository loads the patch metadata table used to build the
// in-memory PatchGraph at startup, and persists lazily-computed MD5/size
// back once a patch file has been read for the first time.
type PatchRepository interface {
	All(ctx context.Context) ([]model.Patch, error)
	UpdateComputed(ctx context.Context, p model.Patch) error
}

type postgresPatchRepository struct {
	db *DB
}

// NewPatchRepository returns a pgx-backed PatchRepository.
func NewPatchRepository(database *DB) PatchRepository {
	return &postgresPatchRepository{db: database}
}

func (r *postgresPatchRepository) All(ctx context.Context) ([]model.Patch, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT build_from, build_to, locale, platform, os, rollup, path, size, md5, mpq FROM patches`)
	if err != nil {
		return nil, fmt.Errorf("db: listing patches: %w", err)
	}
	defer rows.Close()

	var out []model.Patch
	for rows.Next() {
		var p model.Patch
		var md5 []byte
		if err := rows.Scan(&p.BuildFrom, &p.BuildTo, &p.Locale, &p.Platform, &p.OS, &p.Rollup, &p.Path, &p.Size, &md5, &p.MPQ); err != nil {
			return nil, fmt.Errorf("db: scanning patch row: %w", err)
		}
		copy(p.MD5[:], md5)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterating patches: %w", err)
	}
	return out, nil
}

func (r *postgresPatchRepository) UpdateComputed(ctx context.Context, p model.Patch) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE patches SET size = $1, md5 = $2
		 WHERE build_from = $3 AND build_to = $4 AND locale = $5 AND platform = $6 AND os = $7`,
		p.Size, p.MD5[:], p.BuildFrom, p.BuildTo, p.Locale, p.Platform, p.OS,
	)
	if err != nil {
		return fmt.Errorf("db: persisting computed fields for %s: %w", p, err)
	}
	return nil
}
