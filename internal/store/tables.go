package store

// ColKind is the declared kind of a canonical column, used by ingestion and
// the schema validation stage to parse raw values.
type ColKind int

const (
	KindText ColKind = iota
	KindReal
	KindInt
	KindBool
)

// TableSpec describes one canonical entity table and its staging twin.
// The specs drive target inference, staging inserts, validation parsing,
// and promotion upserts, so column knowledge lives in exactly one place.
type TableSpec struct {
	Name       string
	Staging    string
	Columns    []string
	Kinds      map[string]ColKind
	Required   []string
	PrimaryKey []string
}

// Staging metadata columns appended to every staging twin.
var StagingMetaColumns = []string{"batch_id", "source_row_number", "validation_status", "errors"}

// Staging row verdicts.
const (
	VerdictPending = "pending"
	VerdictValid   = "valid"
	VerdictInvalid = "invalid"
)

// Canonical table names.
const (
	TablePlants    = "plants"
	TableCapacity  = "production_capacity_cost"
	TableRoutes    = "transport_routes"
	TableDemand    = "demand_forecast"
	TableInventory = "initial_inventory"
	TablePolicy    = "safety_stock_policy"
)

var tableSpecs = map[string]TableSpec{
	TablePlants: {
		Name:    TablePlants,
		Staging: "stg_plants",
		Columns: []string{"plant_id", "name", "plant_type", "latitude", "longitude", "region", "country"},
		Kinds: map[string]ColKind{
			"plant_id": KindText, "name": KindText, "plant_type": KindText,
			"latitude": KindReal, "longitude": KindReal, "region": KindText, "country": KindText,
		},
		Required:   []string{"plant_id", "plant_type"},
		PrimaryKey: []string{"plant_id"},
	},
	TableCapacity: {
		Name:    TableCapacity,
		Staging: "stg_production_capacity_cost",
		Columns: []string{"plant_id", "period", "max_capacity_tonnes", "variable_cost_per_tonne", "fixed_cost_per_period", "min_run_level_tonnes", "holding_cost_per_tonne"},
		Kinds: map[string]ColKind{
			"plant_id": KindText, "period": KindText,
			"max_capacity_tonnes": KindReal, "variable_cost_per_tonne": KindReal,
			"fixed_cost_per_period": KindReal, "min_run_level_tonnes": KindReal,
			"holding_cost_per_tonne": KindReal,
		},
		Required:   []string{"plant_id", "period", "max_capacity_tonnes"},
		PrimaryKey: []string{"plant_id", "period"},
	},
	TableRoutes: {
		Name:    TableRoutes,
		Staging: "stg_transport_routes",
		Columns: []string{"origin_plant_id", "destination_node_id", "transport_mode", "distance_km", "cost_per_tonne", "cost_per_tonne_km", "fixed_cost_per_trip", "vehicle_capacity_tonnes", "sbq_tonnes", "active"},
		Kinds: map[string]ColKind{
			"origin_plant_id": KindText, "destination_node_id": KindText, "transport_mode": KindText,
			"distance_km": KindReal, "cost_per_tonne": KindReal, "cost_per_tonne_km": KindReal,
			"fixed_cost_per_trip": KindReal, "vehicle_capacity_tonnes": KindReal,
			"sbq_tonnes": KindReal, "active": KindBool,
		},
		Required:   []string{"origin_plant_id", "destination_node_id", "transport_mode"},
		PrimaryKey: []string{"origin_plant_id", "destination_node_id", "transport_mode"},
	},
	TableDemand: {
		Name:    TableDemand,
		Staging: "stg_demand_forecast",
		Columns: []string{"customer_node_id", "period", "demand_tonnes", "demand_low", "demand_high", "confidence", "source_tag"},
		Kinds: map[string]ColKind{
			"customer_node_id": KindText, "period": KindText,
			"demand_tonnes": KindReal, "demand_low": KindReal, "demand_high": KindReal,
			"confidence": KindReal, "source_tag": KindText,
		},
		Required:   []string{"customer_node_id", "period", "demand_tonnes"},
		PrimaryKey: []string{"customer_node_id", "period"},
	},
	TableInventory: {
		Name:    TableInventory,
		Staging: "stg_initial_inventory",
		Columns: []string{"node_id", "period", "inventory_tonnes"},
		Kinds: map[string]ColKind{
			"node_id": KindText, "period": KindText, "inventory_tonnes": KindReal,
		},
		Required:   []string{"node_id", "period", "inventory_tonnes"},
		PrimaryKey: []string{"node_id", "period"},
	},
	TablePolicy: {
		Name:    TablePolicy,
		Staging: "stg_safety_stock_policy",
		Columns: []string{"node_id", "policy_type", "policy_value", "safety_stock_tonnes", "max_inventory_tonnes"},
		Kinds: map[string]ColKind{
			"node_id": KindText, "policy_type": KindText,
			"policy_value": KindReal, "safety_stock_tonnes": KindReal, "max_inventory_tonnes": KindReal,
		},
		Required:   []string{"node_id", "policy_type", "policy_value"},
		PrimaryKey: []string{"node_id"},
	},
}

// Spec returns the table spec for a canonical table name.
func Spec(table string) (TableSpec, bool) {
	spec, ok := tableSpecs[table]
	return spec, ok
}

// CanonicalTables lists the canonical entity tables in a stable order.
func CanonicalTables() []string {
	return []string{TablePlants, TableCapacity, TableRoutes, TableDemand, TableInventory, TablePolicy}
}

var otherTables = map[string]bool{
	"node_coordinates": true,
	"validation_batch": true,
	"route_cache":      true,
	"jobs":             true,
	"optimization_run": true,
	"kpi_per_period":   true,
	"kpi_aggregated":   true,
}

// IsKnownTable reports whether name is one of our tables (canonical,
// staging, or operational). Guards dynamic SQL assembled from table names.
func IsKnownTable(name string) bool {
	if _, ok := tableSpecs[name]; ok {
		return true
	}
	for _, spec := range tableSpecs {
		if spec.Staging == name {
			return true
		}
	}
	return otherTables[name]
}
