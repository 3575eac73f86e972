package db

import (
	"context"
	"fmt"

	"github.com/udisondev/wowcore/internal/model"
)

// IPBanRepository persists the CIDR-masked ban list, loaded once at
// startup into a model.IPBanList (the original's IPBanDAO is queried per
// connection; bans here are rare and the login process's lifetime short
// enough that a snapshot is the simpler fit for this corpus's style of
// in-memory replication, matching RealmRepository).
type IPBanRepository interface {
	All(ctx context.Context) ([]model.IPBan, error)
}

type postgresIPBanRepository struct {
	db *DB
}

// NewIPBanRepository returns a pgx-backed IPBanRepository.
func NewIPBanRepository(database *DB) IPBanRepository {
	return &postgresIPBanRepository{db: database}
}

func (r *postgresIPBanRepository) All(ctx context.Context) ([]model.IPBan, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT ip, cidr FROM ip_bans`)
	if err != nil {
		return nil, fmt.Errorf("db: listing ip bans: %w", err)
	}
	defer rows.Close()

	var out []model.IPBan
	for rows.Next() {
		var b model.IPBan
		if err := rows.Scan(&b.IP, &b.CIDR); err != nil {
			return nil, fmt.Errorf("db: scanning ip ban row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterating ip bans: %w", err)
	}
	return out, nil
}
