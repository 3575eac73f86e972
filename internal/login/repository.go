package login

import (
	"context"

	"github.com/udisondev/wowcore/internal/model"
)

// UserStore is the seam the Handler uses to resolve account records,
// satisfied by db.UserRepository in production and by an in-memory fake
// in tests.
type UserStore interface {
	ByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateVerifier(ctx context.Context, username string, salt, verifier []byte) error
}

// PatchStore feeds the Patch Graph's version gate (§4.5) and persists
// lazily-computed size/MD5 fields once a patch file is first read.
type PatchStore interface {
	All(ctx context.Context) ([]model.Patch, error)
	UpdateComputed(ctx context.Context, p model.Patch) error
}

// RealmStore supplies the replicated realm list served at REQUEST_REALMS.
type RealmStore interface {
	All(ctx context.Context) ([]model.Realm, error)
}
