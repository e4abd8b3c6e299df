package validate

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"clinkerplan/internal/store"
)

var structValidator = validator.New()

// identity structs carry the string-typed identity and enum fields through
// go-playground/validator; numeric requiredness is checked by hand because
// zero is a legitimate value for most tonnage fields.

type plantIdentity struct {
	PlantID   string `validate:"required"`
	PlantType string `validate:"omitempty,oneof=clinker grinding terminal customer"`
}

type capacityIdentity struct {
	PlantID string `validate:"required"`
	Period  string `validate:"required"`
}

type routeIdentity struct {
	OriginPlantID     string `validate:"required"`
	DestinationNodeID string `validate:"required"`
	TransportMode     string `validate:"required"`
}

type demandIdentity struct {
	CustomerNodeID string `validate:"required"`
	Period         string `validate:"required"`
}

type inventoryIdentity struct {
	NodeID string `validate:"required"`
	Period string `validate:"required"`
}

type policyIdentity struct {
	NodeID     string `validate:"required"`
	PolicyType string `validate:"omitempty,oneof=days_of_cover percent_of_demand absolute"`
}

// identityFieldColumns maps struct field names back to canonical columns for
// issue reporting.
var identityFieldColumns = map[string]string{
	"PlantID":           "plant_id",
	"PlantType":         "plant_type",
	"Period":            "period",
	"OriginPlantID":     "origin_plant_id",
	"DestinationNodeID": "destination_node_id",
	"TransportMode":     "transport_mode",
	"CustomerNodeID":    "customer_node_id",
	"NodeID":            "node_id",
	"PolicyType":        "policy_type",
}

// runSchemaStage parses every supplied column to its declared kind, checks
// required presence, and applies identity/enum rules. Parsed values feed
// all later stages.
func runSchemaStage(tctx *tableContext, rs *rowState) {
	spec := tctx.spec

	for _, col := range spec.Columns {
		raw, present := rs.row.Values[col]
		if !present || raw == nil {
			continue
		}
		switch spec.Kinds[col] {
		case store.KindText:
			s := strings.TrimSpace(toString(raw))
			if s != "" {
				rs.parsed[col] = s
			}
		case store.KindReal:
			f, ok := toFloat(raw)
			if !ok {
				rs.addError(StageSchema, col, "type_mismatch",
					"value is not numeric", raw)
				continue
			}
			rs.parsed[col] = f
		case store.KindBool:
			b, ok := toBool(raw)
			if !ok {
				rs.addError(StageSchema, col, "type_mismatch",
					"value is not a boolean", raw)
				continue
			}
			rs.parsed[col] = b
		case store.KindInt:
			f, ok := toFloat(raw)
			if !ok || f != float64(int64(f)) {
				rs.addError(StageSchema, col, "type_mismatch",
					"value is not an integer", raw)
				continue
			}
			rs.parsed[col] = f
		}
	}

	for _, col := range spec.Required {
		if _, ok := rs.parsed[col]; !ok {
			// Already reported as a type mismatch if it was present but
			// unparseable.
			if raw, present := rs.row.Values[col]; present && raw != nil {
				if _, reported := lo.Find(rs.issues, func(is Issue) bool {
					return is.Field == col && is.Code == "type_mismatch"
				}); reported {
					continue
				}
			}
			rs.addError(StageSchema, col, "missing_required",
				"required value is missing or empty", rs.row.Values[col])
		}
	}

	validateIdentity(tctx, rs)
}

func validateIdentity(tctx *tableContext, rs *rowState) {
	var subject any
	get := func(col string) string {
		s, _ := rs.str(col)
		return s
	}
	switch tctx.spec.Name {
	case store.TablePlants:
		subject = plantIdentity{PlantID: get("plant_id"), PlantType: get("plant_type")}
	case store.TableCapacity:
		subject = capacityIdentity{PlantID: get("plant_id"), Period: get("period")}
	case store.TableRoutes:
		subject = routeIdentity{
			OriginPlantID:     get("origin_plant_id"),
			DestinationNodeID: get("destination_node_id"),
			TransportMode:     get("transport_mode"),
		}
	case store.TableDemand:
		subject = demandIdentity{CustomerNodeID: get("customer_node_id"), Period: get("period")}
	case store.TableInventory:
		subject = inventoryIdentity{NodeID: get("node_id"), Period: get("period")}
	case store.TablePolicy:
		subject = policyIdentity{NodeID: get("node_id"), PolicyType: get("policy_type")}
	default:
		return
	}

	err := structValidator.Struct(subject)
	if err == nil {
		return
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		rs.addError(StageSchema, "", "identity_check_failed", err.Error(), nil)
		return
	}
	for _, fe := range verrs {
		col := identityFieldColumns[fe.Field()]
		switch fe.Tag() {
		case "required":
			// Missing requireds are already reported against spec.Required;
			// avoid a duplicate issue for the same column.
			if lo.ContainsBy(rs.issues, func(is Issue) bool {
				return is.Field == col && is.Code == "missing_required"
			}) {
				continue
			}
			rs.addError(StageSchema, col, "missing_required",
				"required identifier is missing or empty", rs.row.Values[col])
		case "oneof":
			rs.addError(StageSchema, col, "invalid_enum",
				"value is not in the allowed set ("+fe.Param()+")", fe.Value())
		default:
			rs.addError(StageSchema, col, "schema_violation", fe.Error(), fe.Value())
		}
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	case float64:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1", "y":
			return true, true
		case "false", "no", "0", "n":
			return false, true
		}
	}
	return false, false
}
