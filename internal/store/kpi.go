package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ReplaceKPIs overwrites the materialized KPI rows for one scenario in a
// single transaction: per-period rows plus the aggregate.
func (s *Store) ReplaceKPIs(ctx context.Context, scenario string, periods []KPIPerPeriod, agg KPIAggregated) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("DELETE FROM kpi_per_period WHERE scenario_name = ?", scenario); err != nil {
			return fmt.Errorf("failed to clear period KPIs: %w", err)
		}
		for _, p := range periods {
			if _, err := tx.NamedExec(`
				INSERT INTO kpi_per_period
					(scenario_name, period, total_cost, production_cost, transport_cost,
					 fixed_trip_cost, holding_cost, penalty_cost, production_tonnes,
					 production_utilization, shipment_tonnes, total_trips,
					 transport_utilization, sbq_compliance_rate, avg_inventory_tonnes,
					 inventory_turns, demand_tonnes, unmet_demand_tonnes,
					 fulfillment_rate, service_level, stockout_events)
				VALUES
					(:scenario_name, :period, :total_cost, :production_cost, :transport_cost,
					 :fixed_trip_cost, :holding_cost, :penalty_cost, :production_tonnes,
					 :production_utilization, :shipment_tonnes, :total_trips,
					 :transport_utilization, :sbq_compliance_rate, :avg_inventory_tonnes,
					 :inventory_turns, :demand_tonnes, :unmet_demand_tonnes,
					 :fulfillment_rate, :service_level, :stockout_events)`, p); err != nil {
				return fmt.Errorf("failed to insert period KPI: %w", err)
			}
		}
		if _, err := tx.Exec("DELETE FROM kpi_aggregated WHERE scenario_name = ?", scenario); err != nil {
			return fmt.Errorf("failed to clear aggregate KPI: %w", err)
		}
		if _, err := tx.NamedExec(`
			INSERT INTO kpi_aggregated
				(scenario_name, run_id, total_cost, production_cost, transport_cost,
				 fixed_trip_cost, holding_cost, penalty_cost, production_tonnes,
				 shipment_tonnes, total_trips, demand_tonnes, unmet_demand_tonnes,
				 avg_service_level, stockout_events, periods)
			VALUES
				(:scenario_name, :run_id, :total_cost, :production_cost, :transport_cost,
				 :fixed_trip_cost, :holding_cost, :penalty_cost, :production_tonnes,
				 :shipment_tonnes, :total_trips, :demand_tonnes, :unmet_demand_tonnes,
				 :avg_service_level, :stockout_events, :periods)`, agg); err != nil {
			return fmt.Errorf("failed to insert aggregate KPI: %w", err)
		}
		return nil
	})
}

// GetKPIPerPeriod returns the per-period rows for a scenario in period order.
func (s *Store) GetKPIPerPeriod(ctx context.Context, scenario string) ([]KPIPerPeriod, error) {
	var out []KPIPerPeriod
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM kpi_per_period WHERE scenario_name = ? ORDER BY period", scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to read period KPIs: %w", err)
	}
	return out, nil
}

// GetKPIAggregated returns the per-scenario rollup or ErrNotFound.
func (s *Store) GetKPIAggregated(ctx context.Context, scenario string) (*KPIAggregated, error) {
	var agg KPIAggregated
	err := s.db.GetContext(ctx, &agg, "SELECT * FROM kpi_aggregated WHERE scenario_name = ?", scenario)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate KPI: %w", err)
	}
	return &agg, nil
}
