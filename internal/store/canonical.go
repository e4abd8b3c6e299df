package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

// upsertSQL builds an INSERT ... ON CONFLICT DO UPDATE statement for a
// canonical table over the supplied columns. REPLACE is avoided so foreign
// keys into plants survive re-promotion.
func upsertSQL(spec TableSpec, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	nonKey := lo.Filter(cols, func(c string, _ int) bool {
		return !lo.Contains(spec.PrimaryKey, c)
	})
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO ",
		spec.Name, strings.Join(cols, ", "), placeholders, strings.Join(spec.PrimaryKey, ", "))
	if len(nonKey) == 0 {
		sb.WriteString("NOTHING")
		return sb.String()
	}
	sb.WriteString("UPDATE SET ")
	for i, c := range nonKey {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", c, c)
	}
	return sb.String()
}

// UpsertRow writes one row map into a canonical table inside tx. Map keys
// must be canonical column names. Absent and nil values are skipped so that
// schema defaults apply on insert and prior values survive an update.
func UpsertRow(tx *sqlx.Tx, table string, row map[string]any) error {
	spec, ok := Spec(table)
	if !ok {
		return fmt.Errorf("unknown canonical table %q", table)
	}
	cols := make([]string, 0, len(spec.Columns))
	args := make([]any, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		if v, present := row[c]; present && v != nil {
			cols = append(cols, c)
			args = append(args, v)
		}
	}
	if len(cols) == 0 {
		return fmt.Errorf("no columns supplied for %s", table)
	}
	if _, err := tx.Exec(upsertSQL(spec, cols), args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

// upsertStruct routes a typed entity through UpsertRow in its own
// transaction. Used by tests and seeding paths; bulk writes use promotion.
func (s *Store) upsertStruct(ctx context.Context, table string, row map[string]any) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return UpsertRow(tx, table, row)
	})
}

func nullToAny(v sql.NullFloat64) any {
	if v.Valid {
		return v.Float64
	}
	return nil
}

// UpsertPlant writes one plant.
func (s *Store) UpsertPlant(ctx context.Context, p Plant) error {
	return s.upsertStruct(ctx, TablePlants, map[string]any{
		"plant_id": p.PlantID, "name": p.Name, "plant_type": p.PlantType,
		"latitude": nullToAny(p.Latitude), "longitude": nullToAny(p.Longitude),
		"region": p.Region, "country": p.Country,
	})
}

// UpsertCapacity writes one capacity/cost row.
func (s *Store) UpsertCapacity(ctx context.Context, c ProductionCapacityCost) error {
	return s.upsertStruct(ctx, TableCapacity, map[string]any{
		"plant_id": c.PlantID, "period": c.Period,
		"max_capacity_tonnes": c.MaxCapacityTonnes, "variable_cost_per_tonne": c.VariableCostPerTonne,
		"fixed_cost_per_period": c.FixedCostPerPeriod, "min_run_level_tonnes": c.MinRunLevelTonnes,
		"holding_cost_per_tonne": c.HoldingCostPerTonne,
	})
}

// UpsertRoute writes one transport route.
func (s *Store) UpsertRoute(ctx context.Context, r TransportRoute) error {
	return s.upsertStruct(ctx, TableRoutes, map[string]any{
		"origin_plant_id": r.OriginPlantID, "destination_node_id": r.DestinationNodeID,
		"transport_mode": r.TransportMode, "distance_km": nullToAny(r.DistanceKM),
		"cost_per_tonne": nullToAny(r.CostPerTonne), "cost_per_tonne_km": nullToAny(r.CostPerTonneKM),
		"fixed_cost_per_trip": r.FixedCostPerTrip, "vehicle_capacity_tonnes": r.VehicleCapacityTonnes,
		"sbq_tonnes": r.SBQTonnes, "active": r.Active,
	})
}

// UpsertDemand writes one demand forecast row.
func (s *Store) UpsertDemand(ctx context.Context, d DemandForecast) error {
	return s.upsertStruct(ctx, TableDemand, map[string]any{
		"customer_node_id": d.CustomerNodeID, "period": d.Period, "demand_tonnes": d.DemandTonnes,
		"demand_low": nullToAny(d.DemandLow), "demand_high": nullToAny(d.DemandHigh),
		"confidence": nullToAny(d.Confidence), "source_tag": d.SourceTag,
	})
}

// UpsertInventory writes one opening-inventory row.
func (s *Store) UpsertInventory(ctx context.Context, i InitialInventory) error {
	return s.upsertStruct(ctx, TableInventory, map[string]any{
		"node_id": i.NodeID, "period": i.Period, "inventory_tonnes": i.InventoryTonnes,
	})
}

// UpsertPolicy writes one safety stock policy.
func (s *Store) UpsertPolicy(ctx context.Context, p SafetyStockPolicy) error {
	return s.upsertStruct(ctx, TablePolicy, map[string]any{
		"node_id": p.NodeID, "policy_type": p.PolicyType, "policy_value": p.PolicyValue,
		"safety_stock_tonnes": p.SafetyStockTonnes, "max_inventory_tonnes": nullToAny(p.MaxInventoryTonnes),
	})
}

// ListPlants returns all plants ordered by id.
func (s *Store) ListPlants(ctx context.Context) ([]Plant, error) {
	var out []Plant
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM plants ORDER BY plant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list plants: %w", err)
	}
	return out, nil
}

// GetPlant returns one plant or ErrNotFound.
func (s *Store) GetPlant(ctx context.Context, plantID string) (*Plant, error) {
	var p Plant
	err := s.db.GetContext(ctx, &p, "SELECT * FROM plants WHERE plant_id = ?", plantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plant %s: %w", plantID, err)
	}
	return &p, nil
}

// ListCapacities returns all capacity rows ordered by plant and period.
func (s *Store) ListCapacities(ctx context.Context) ([]ProductionCapacityCost, error) {
	var out []ProductionCapacityCost
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM production_capacity_cost ORDER BY plant_id, period")
	if err != nil {
		return nil, fmt.Errorf("failed to list capacities: %w", err)
	}
	return out, nil
}

// ListActiveRoutes returns active routes only; inactive routes are invisible
// to the planner.
func (s *Store) ListActiveRoutes(ctx context.Context) ([]TransportRoute, error) {
	var out []TransportRoute
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM transport_routes WHERE active = 1 ORDER BY origin_plant_id, destination_node_id, transport_mode")
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return out, nil
}

// ListDemand returns all demand rows ordered by customer and period.
func (s *Store) ListDemand(ctx context.Context) ([]DemandForecast, error) {
	var out []DemandForecast
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM demand_forecast ORDER BY customer_node_id, period")
	if err != nil {
		return nil, fmt.Errorf("failed to list demand: %w", err)
	}
	return out, nil
}

// ListInventory returns all opening-inventory rows ordered by node/period.
func (s *Store) ListInventory(ctx context.Context) ([]InitialInventory, error) {
	var out []InitialInventory
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM initial_inventory ORDER BY node_id, period")
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	return out, nil
}

// ListPolicies returns all safety stock policies.
func (s *Store) ListPolicies(ctx context.Context) ([]SafetyStockPolicy, error) {
	var out []SafetyStockPolicy
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM safety_stock_policy ORDER BY node_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return out, nil
}

// KeyExists reports whether a canonical row with the given key column value
// exists. Used by the referential-integrity validation stage.
func (s *Store) KeyExists(ctx context.Context, table, column, value string) (bool, error) {
	spec, ok := Spec(table)
	if !ok || !lo.Contains(spec.Columns, column) {
		return false, fmt.Errorf("unknown table/column %s.%s", table, column)
	}
	var n int
	err := s.db.GetContext(ctx, &n,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", spec.Name, column), value)
	if err != nil {
		return false, fmt.Errorf("failed referential lookup on %s: %w", table, err)
	}
	return n > 0, nil
}

// GetNodeCoordinate looks up a coordinate from plants first, then the
// secondary node_coordinates table. Returns ErrNotFound when neither side
// has a usable coordinate.
func (s *Store) GetNodeCoordinate(ctx context.Context, nodeID string) (lat, lon float64, err error) {
	p, err := s.GetPlant(ctx, nodeID)
	if err == nil && p.Latitude.Valid && p.Longitude.Valid {
		return p.Latitude.Float64, p.Longitude.Float64, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, 0, err
	}
	var nc NodeCoordinate
	err = s.db.GetContext(ctx, &nc, "SELECT * FROM node_coordinates WHERE node_id = ?", nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get coordinate for %s: %w", nodeID, err)
	}
	return nc.Latitude, nc.Longitude, nil
}

// UpsertNodeCoordinate writes a secondary coordinate row.
func (s *Store) UpsertNodeCoordinate(ctx context.Context, nc NodeCoordinate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_coordinates (node_id, latitude, longitude) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET latitude = excluded.latitude, longitude = excluded.longitude`,
		nc.NodeID, nc.Latitude, nc.Longitude)
	if err != nil {
		return fmt.Errorf("failed to upsert coordinate: %w", err)
	}
	return nil
}
