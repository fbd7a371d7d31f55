package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
)

const agentColumns = `
	id, name, agent_type,
	ST_Y(location::geometry) AS lat,
	ST_X(location::geometry) AS lon,
	altitude, visibility_radius_meters, model_ref,
	scale, rot_x, rot_y, rot_z, active, updated_at`

// AgentRepo implements ports.AgentRepository with pgx and PostGIS.
type AgentRepo struct {
	db *DB
}

// NewAgentRepo creates a new AgentRepo.
func NewAgentRepo(db *DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// Upsert inserts or updates a single agent.
func (r *AgentRepo) Upsert(ctx context.Context, a *domain.TrackedAgent) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO agents (id, name, agent_type, location, altitude, visibility_radius_meters,
		                    model_ref, scale, rot_x, rot_y, rot_z, active, updated_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7,
		        $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, agent_type = EXCLUDED.agent_type,
		    location = EXCLUDED.location, altitude = EXCLUDED.altitude,
		    visibility_radius_meters = EXCLUDED.visibility_radius_meters,
		    model_ref = EXCLUDED.model_ref, scale = EXCLUDED.scale,
		    rot_x = EXCLUDED.rot_x, rot_y = EXCLUDED.rot_y, rot_z = EXCLUDED.rot_z,
		    active = EXCLUDED.active, updated_at = now()
	`, a.ID, a.Name, string(a.Type.Normalize()), a.Location.Lon, a.Location.Lat, a.Location.Alt,
		a.Radius(), a.ModelRef, a.Transform.Scale,
		a.Transform.Rotation.X, a.Transform.Rotation.Y, a.Transform.Rotation.Z, a.Active)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns an agent by id.
func (r *AgentRepo) GetByID(ctx context.Context, id string) (*domain.TrackedAgent, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindNearby returns active agents within radiusMeters using PostGIS
// ST_DWithin, nearest first.
func (r *AgentRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.TrackedAgent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE active
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography), id
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.TrackedAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Deactivate flags an agent inactive.
func (r *AgentRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE agents SET active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanAgent(row pgx.Row) (domain.TrackedAgent, error) {
	var (
		a          domain.TrackedAgent
		agentType  string
		rx, ry, rz float64
	)
	err := row.Scan(
		&a.ID, &a.Name, &agentType,
		&a.Location.Lat, &a.Location.Lon,
		&a.Location.Alt, &a.VisibilityRadiusMeters, &a.ModelRef,
		&a.Transform.Scale, &rx, &ry, &rz, &a.Active, &a.UpdatedAt,
	)
	if err != nil {
		return domain.TrackedAgent{}, err
	}
	a.Type = domain.AgentType(agentType).Normalize()
	a.Transform.Rotation = r3.Vec{X: rx, Y: ry, Z: rz}
	return a, nil
}
