package store

import (
	"database/sql"
	"time"
)

// Plant is a node in the supply network: clinker plant, grinding station,
// terminal, or customer.
type Plant struct {
	PlantID   string          `db:"plant_id"`
	Name      string          `db:"name"`
	PlantType string          `db:"plant_type"`
	Latitude  sql.NullFloat64 `db:"latitude"`
	Longitude sql.NullFloat64 `db:"longitude"`
	Region    string          `db:"region"`
	Country   string          `db:"country"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Allowed plant_type values.
const (
	PlantTypeClinker  = "clinker"
	PlantTypeGrinding = "grinding"
	PlantTypeTerminal = "terminal"
	PlantTypeCustomer = "customer"
)

// PlantTypes enumerates the allowed plant_type values.
var PlantTypes = []string{PlantTypeClinker, PlantTypeGrinding, PlantTypeTerminal, PlantTypeCustomer}

// ProductionCapacityCost holds per-(plant, period) capacity and cost data.
type ProductionCapacityCost struct {
	PlantID              string  `db:"plant_id"`
	Period               string  `db:"period"`
	MaxCapacityTonnes    float64 `db:"max_capacity_tonnes"`
	VariableCostPerTonne float64 `db:"variable_cost_per_tonne"`
	FixedCostPerPeriod   float64 `db:"fixed_cost_per_period"`
	MinRunLevelTonnes    float64 `db:"min_run_level_tonnes"`
	HoldingCostPerTonne  float64 `db:"holding_cost_per_tonne"`
}

// TransportRoute is a directed lane between an origin plant and a
// destination node for one transport mode.
type TransportRoute struct {
	OriginPlantID         string          `db:"origin_plant_id"`
	DestinationNodeID     string          `db:"destination_node_id"`
	TransportMode         string          `db:"transport_mode"`
	DistanceKM            sql.NullFloat64 `db:"distance_km"`
	CostPerTonne          sql.NullFloat64 `db:"cost_per_tonne"`
	CostPerTonneKM        sql.NullFloat64 `db:"cost_per_tonne_km"`
	FixedCostPerTrip      float64         `db:"fixed_cost_per_trip"`
	VehicleCapacityTonnes float64         `db:"vehicle_capacity_tonnes"`
	SBQTonnes             float64         `db:"sbq_tonnes"`
	Active                bool            `db:"active"`
}

// DemandForecast is forecast demand for a customer node in one period.
type DemandForecast struct {
	CustomerNodeID string          `db:"customer_node_id"`
	Period         string          `db:"period"`
	DemandTonnes   float64         `db:"demand_tonnes"`
	DemandLow      sql.NullFloat64 `db:"demand_low"`
	DemandHigh     sql.NullFloat64 `db:"demand_high"`
	Confidence     sql.NullFloat64 `db:"confidence"`
	SourceTag      string          `db:"source_tag"`
}

// InitialInventory is opening stock at a node. Only the earliest period per
// node is consumed by the planner.
type InitialInventory struct {
	NodeID          string  `db:"node_id"`
	Period          string  `db:"period"`
	InventoryTonnes float64 `db:"inventory_tonnes"`
}

// SafetyStockPolicy holds per-node safety stock settings.
type SafetyStockPolicy struct {
	NodeID             string          `db:"node_id"`
	PolicyType         string          `db:"policy_type"`
	PolicyValue        float64         `db:"policy_value"`
	SafetyStockTonnes  float64         `db:"safety_stock_tonnes"`
	MaxInventoryTonnes sql.NullFloat64 `db:"max_inventory_tonnes"`
}

// PolicyTypes enumerates the allowed safety stock policy types.
var PolicyTypes = []string{"days_of_cover", "percent_of_demand", "absolute"}

// NodeCoordinate is a coordinate for a non-plant node.
type NodeCoordinate struct {
	NodeID    string  `db:"node_id"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
}

// Batch statuses.
const (
	BatchPending   = "pending"
	BatchValidated = "validated"
	BatchPromoted  = "promoted"
	BatchFailed    = "failed"
	BatchExpired   = "expired"
)

// ValidationBatch tracks one uploaded cohort of rows through validation and
// promotion. Status transitions are append-only.
type ValidationBatch struct {
	BatchID          string       `db:"batch_id"`
	SourceDescriptor string       `db:"source_descriptor"`
	TargetTable      string       `db:"target_table"`
	TotalRows        int          `db:"total_rows"`
	ValidRows        int          `db:"valid_rows"`
	InvalidRows      int          `db:"invalid_rows"`
	Status           string       `db:"status"`
	ErrorSummary     string       `db:"error_summary"`
	Warnings         string       `db:"warnings"`
	CreatedAt        time.Time    `db:"created_at"`
	ValidatedAt      sql.NullTime `db:"validated_at"`
	PromotedAt       sql.NullTime `db:"promoted_at"`
}

// RouteCacheEntry is a resolved (origin, destination, mode) distance.
type RouteCacheEntry struct {
	OriginID        string       `db:"origin_id"`
	DestinationID   string       `db:"destination_id"`
	Mode            string       `db:"mode"`
	DistanceKM      float64      `db:"distance_km"`
	DurationMinutes float64      `db:"duration_minutes"`
	Provider        string       `db:"provider"`
	CreatedAt       time.Time    `db:"created_at"`
	ExpiresAt       sql.NullTime `db:"expires_at"`
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSuccess   = "success"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is a persisted background job record.
type Job struct {
	JobID           string       `db:"job_id"`
	JobType         string       `db:"job_type"`
	Status          string       `db:"status"`
	ScenarioName    string       `db:"scenario_name"`
	UserID          string       `db:"user_id"`
	Payload         string       `db:"payload"`
	ProgressPercent float64      `db:"progress_percent"`
	ProgressMessage string       `db:"progress_message"`
	ErrorPayload    string       `db:"error_payload"`
	ResultRef       string       `db:"result_ref"`
	ResultSummary   string       `db:"result_summary"`
	SubmittedAt     time.Time    `db:"submitted_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	FinishedAt      sql.NullTime `db:"finished_at"`
}

// OptimizationRun records one solver invocation for a scenario.
type OptimizationRun struct {
	RunID            string          `db:"run_id"`
	ScenarioName     string          `db:"scenario_name"`
	SolverName       string          `db:"solver_name"`
	SolverStatus     string          `db:"solver_status"`
	ObjectiveValue   sql.NullFloat64 `db:"objective_value"`
	SolveTimeSeconds float64         `db:"solve_time_seconds"`
	TimeLimitSeconds float64         `db:"time_limit_seconds"`
	GapTolerance     float64         `db:"gap_tolerance"`
	ResultJSON       string          `db:"result_json"`
	ValidationStatus string          `db:"validation_status"`
	StartedAt        sql.NullTime    `db:"started_at"`
	FinishedAt       sql.NullTime    `db:"finished_at"`
}

// KPIPerPeriod is the materialized per-(scenario, period) summary.
type KPIPerPeriod struct {
	ScenarioName          string  `db:"scenario_name"`
	Period                string  `db:"period"`
	TotalCost             float64 `db:"total_cost"`
	ProductionCost        float64 `db:"production_cost"`
	TransportCost         float64 `db:"transport_cost"`
	FixedTripCost         float64 `db:"fixed_trip_cost"`
	HoldingCost           float64 `db:"holding_cost"`
	PenaltyCost           float64 `db:"penalty_cost"`
	ProductionTonnes      float64 `db:"production_tonnes"`
	ProductionUtilization float64 `db:"production_utilization"`
	ShipmentTonnes        float64 `db:"shipment_tonnes"`
	TotalTrips            float64 `db:"total_trips"`
	TransportUtilization  float64 `db:"transport_utilization"`
	SBQComplianceRate     float64 `db:"sbq_compliance_rate"`
	AvgInventoryTonnes    float64 `db:"avg_inventory_tonnes"`
	InventoryTurns        float64 `db:"inventory_turns"`
	DemandTonnes          float64 `db:"demand_tonnes"`
	UnmetDemandTonnes     float64 `db:"unmet_demand_tonnes"`
	FulfillmentRate       float64 `db:"fulfillment_rate"`
	ServiceLevel          float64 `db:"service_level"`
	StockoutEvents        int     `db:"stockout_events"`
}

// KPIAggregated is the materialized per-scenario rollup.
type KPIAggregated struct {
	ScenarioName      string  `db:"scenario_name"`
	RunID             string  `db:"run_id"`
	TotalCost         float64 `db:"total_cost"`
	ProductionCost    float64 `db:"production_cost"`
	TransportCost     float64 `db:"transport_cost"`
	FixedTripCost     float64 `db:"fixed_trip_cost"`
	HoldingCost       float64 `db:"holding_cost"`
	PenaltyCost       float64 `db:"penalty_cost"`
	ProductionTonnes  float64 `db:"production_tonnes"`
	ShipmentTonnes    float64 `db:"shipment_tonnes"`
	TotalTrips        float64 `db:"total_trips"`
	DemandTonnes      float64 `db:"demand_tonnes"`
	UnmetDemandTonnes float64 `db:"unmet_demand_tonnes"`
	AvgServiceLevel   float64 `db:"avg_service_level"`
	StockoutEvents    int     `db:"stockout_events"`
	Periods           int     `db:"periods"`
}
