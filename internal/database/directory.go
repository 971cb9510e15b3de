package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hiveroute/hiveroute/internal/database/models"
	"github.com/hiveroute/hiveroute/internal/routing"
)

// Directory implements routing.Directory over the cluster directory schema.
// Every load returns a fresh snapshot owned by the calling routing attempt.
type Directory struct {
	db Querier
}

// NewDirectory creates a directory over the given pool.
func NewDirectory(db Querier) *Directory {
	return &Directory{db: db}
}

const extensionColumns = `id, extension, name, type, forwarding_mode,
	 forwarding_delay, forwarding_extension_id, ringback, switch_id`

// extensionRow holds one extensions row with its nullable columns.
type extensionRow struct {
	id              int64
	extension       string
	name            string
	extType         models.ExtensionType
	forwardingMode  models.ForwardingMode
	forwardingDelay *int
	forwardingID    *int64
	ringback        *string
	switchID        int64
}

func (r *extensionRow) scanDest() []any {
	return []any{
		&r.id, &r.extension, &r.name, &r.extType, &r.forwardingMode,
		&r.forwardingDelay, &r.forwardingID, &r.ringback, &r.switchID,
	}
}

func (r *extensionRow) toModel() *models.Extension {
	ext := &models.Extension{
		ID:                    r.id,
		Extension:             r.extension,
		Name:                  r.name,
		Type:                  r.extType,
		ForwardingMode:        r.forwardingMode,
		ForwardingExtensionID: r.forwardingID,
		SwitchID:              r.switchID,
	}
	if r.forwardingDelay != nil {
		ext.ForwardingDelay = *r.forwardingDelay
	}
	if r.ringback != nil {
		ext.Ringback = *r.ringback
	}
	return ext
}

// LoadExtension returns the extension with the given number, or an error
// wrapping routing.ErrExtensionNotFound if the number is unknown.
func (d *Directory) LoadExtension(ctx context.Context, number string) (*models.Extension, error) {
	var row extensionRow
	err := d.db.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE extension = $1`, number).
		Scan(row.scanDest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", routing.ErrExtensionNotFound, number)
		}
		return nil, fmt.Errorf("loading extension %s: %w", number, err)
	}
	return row.toModel(), nil
}

func (d *Directory) loadExtensionByID(ctx context.Context, id int64) (*models.Extension, error) {
	var row extensionRow
	err := d.db.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE id = $1`, id).
		Scan(row.scanDest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", routing.ErrExtensionNotFound, id)
		}
		return nil, fmt.Errorf("loading extension id %d: %w", id, err)
	}
	return row.toModel(), nil
}

// LoadForwardingTarget resolves ext's forwarding target in place. Extensions
// without a forwarding reference are left unchanged.
func (d *Directory) LoadForwardingTarget(ctx context.Context, ext *models.Extension) error {
	if ext.ForwardingExtensionID == nil {
		return nil
	}
	fwd, err := d.loadExtensionByID(ctx, *ext.ForwardingExtensionID)
	if err != nil {
		return fmt.Errorf("resolving forward of %s: %w", ext.Extension, err)
	}
	ext.ForwardingExtension = fwd
	return nil
}

// LoadCallgroupRanks populates ext's callgroup ranks in place, ordered by
// rank position and member priority.
func (d *Directory) LoadCallgroupRanks(ctx context.Context, ext *models.Extension) error {
	rows, err := d.db.Query(ctx,
		`SELECT r.id, r.position, r.mode, r.delay, m.calltype, m.active,
		 e.id, e.extension, e.name, e.type, e.forwarding_mode,
		 e.forwarding_delay, e.forwarding_extension_id, e.ringback, e.switch_id
		 FROM fork_ranks r
		 JOIN fork_rank_members m ON m.rank_id = r.id
		 JOIN extensions e ON e.id = m.extension_id
		 WHERE r.extension_id = $1
		 ORDER BY r.position, m.priority`, ext.ID)
	if err != nil {
		return fmt.Errorf("querying ranks of %s: %w", ext.Extension, err)
	}
	defer rows.Close()

	var ranks []*models.CallgroupRank
	for rows.Next() {
		var (
			rankID    int64
			position  int
			mode      models.RankMode
			delay     *int
			calltype  models.MemberCallType
			active    bool
			memberRow extensionRow
		)
		dest := append([]any{&rankID, &position, &mode, &delay, &calltype, &active},
			memberRow.scanDest()...)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scanning rank member of %s: %w", ext.Extension, err)
		}

		if len(ranks) == 0 || ranks[len(ranks)-1].ID != rankID {
			rank := &models.CallgroupRank{ID: rankID, Position: position, Mode: mode}
			if delay != nil {
				rank.Delay = *delay
			}
			ranks = append(ranks, rank)
		}
		rank := ranks[len(ranks)-1]
		rank.Members = append(rank.Members, &models.CallgroupMember{
			Extension: memberRow.toModel(),
			Active:    active,
			CallType:  calltype,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating ranks of %s: %w", ext.Extension, err)
	}

	ext.CallgroupRanks = ranks
	return nil
}

// ListSwitches returns the whole cluster switch table keyed by switch id.
func (d *Directory) ListSwitches(ctx context.Context) (map[int64]*models.Switch, error) {
	rows, err := d.db.Query(ctx,
		`SELECT id, hostname, trunk_connection FROM switches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying switches: %w", err)
	}
	defer rows.Close()

	switches := make(map[int64]*models.Switch)
	for rows.Next() {
		sw := &models.Switch{}
		if err := rows.Scan(&sw.ID, &sw.Hostname, &sw.TrunkConnection); err != nil {
			return nil, fmt.Errorf("scanning switch: %w", err)
		}
		switches[sw.ID] = sw
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating switches: %w", err)
	}
	return switches, nil
}

// Compile-time check that the directory satisfies the routing contract.
var _ routing.Directory = (*Directory)(nil)
