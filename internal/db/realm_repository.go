package db

import (
	"context"
	"fmt"

	"github.com/udisondev/wowcore/internal/model"
)

// RealmRepository persists the realm catalogue's static fields (name,
// address, category, region). Live fields — population, online/offline —
// are replicated in memory from realm-process RPC publications and never
// round-trip through the database.
type RealmRepository interface {
	All(ctx context.Context) ([]model.Realm, error)
}

type postgresRealmRepository struct {
	db *DB
}

// NewRealmRepository returns a pgx-backed RealmRepository.
func NewRealmRepository(database *DB) RealmRepository {
	return &postgresRealmRepository{db: database}
}

func (r *postgresRealmRepository) All(ctx context.Context) ([]model.Realm, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, name, ip, port, type, category, region FROM realms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db: listing realms: %w", err)
	}
	defer rows.Close()

	var out []model.Realm
	for rows.Next() {
		var rec model.Realm
		var realmType int
		var port int
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.IP, &port, &realmType, &rec.Category, &rec.Region); err != nil {
			return nil, fmt.Errorf("db: scanning realm row: %w", err)
		}
		rec.Port = uint16(port)
		rec.Type = model.RealmType(realmType)
		rec.Flags.Offline = true // realms start offline until a realm process publishes status
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterating realms: %w", err)
	}
	return out, nil
}

