// Package directory resolves user profiles into conversation counterparties,
// scoped by what each role may message.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"organimate/internal/chat"
	"organimate/internal/user"
)

// A profile is the directory's read-only view of a users row.
type profile struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string `bun:"id,pk"`
	Username    string `bun:"username"`
	DisplayName string `bun:"display_name"`
	Role        string `bun:"role"`
}

func (p profile) counterparty() chat.Counterparty {
	name := p.DisplayName
	if name == "" {
		name = p.Username
	}
	return chat.Counterparty{ID: p.ID, Name: name}
}

// Directory reads profiles from PostgreSQL.
type Directory struct {
	bun *bun.DB
}

// New wraps an open database handle.
func New(sqlDB *sql.DB) *Directory {
	return &Directory{bun: bun.NewDB(sqlDB, pgdialect.New())}
}

// Counterparties lists every profile the viewer's role may message, ordered by
// name. The viewer is never included.
func (d *Directory) Counterparties(ctx context.Context, viewer user.Claims) ([]chat.Counterparty, error) {
	roles := contactRoles(viewer.Role)
	if len(roles) == 0 {
		return []chat.Counterparty{}, nil
	}

	var profiles []profile
	err := d.bun.NewSelect().
		Model(&profiles).
		Column("id", "username", "display_name", "role").
		Where("role IN (?)", bun.In(roles)).
		Where("id <> ?", viewer.ID).
		OrderExpr("COALESCE(NULLIF(display_name, ''), username) ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counterparties for %s: %w", viewer.Role, err)
	}

	out := make([]chat.Counterparty, len(profiles))
	for i, p := range profiles {
		out[i] = p.counterparty()
	}
	return out, nil
}

// Resolve looks up id and checks the viewer may message it.
func (d *Directory) Resolve(ctx context.Context, viewer user.Claims, id string) (chat.Counterparty, error) {
	if id == "" {
		return chat.Counterparty{}, chat.ErrNoCounterparty
	}

	var p profile
	err := d.bun.NewSelect().
		Model(&p).
		Column("id", "username", "display_name", "role").
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Counterparty{}, fmt.Errorf("resolve %q: %w", id, chat.ErrUnknownCounterparty)
		}
		return chat.Counterparty{}, fmt.Errorf("resolve %q: %w", id, err)
	}

	if p.ID == viewer.ID || !viewer.Role.CanMessage(user.Role(p.Role)) {
		return chat.Counterparty{}, fmt.Errorf("resolve %q for %s: %w", id, viewer.Role, chat.ErrUnknownCounterparty)
	}
	return p.counterparty(), nil
}

func contactRoles(r user.Role) []string {
	roles := r.Policy().ContactRoles
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}
