package models

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Variable units for every measurable quantity the API accepts.
var VariableUnits = map[string]string{
	"air_temperature":   "degC",
	"wind_speed":        "m/s",
	"ghi":               "W/m^2",
	"dni":               "W/m^2",
	"dhi":               "W/m^2",
	"poa_global":        "W/m^2",
	"relative_humidity": "%",
	"ac_power":          "MW",
	"dc_power":          "MW",
	"availability":      "%",
	"curtailment":       "MW",
	"event":             "boolean",
	"net_load":          "MW",
}

// Enumerations shared across resources.
var (
	IntervalLabels     = []string{"beginning", "ending", "instant", "event"}
	IntervalValueTypes = []string{"interval_mean", "interval_max", "interval_min", "interval_median", "instantaneous"}
	AggregateTypes     = []string{"sum", "mean", "median", "max", "min"}
	CostAggregations   = []string{"sum", "mean"}
	CostFills          = []string{"forward", "backward"}
	ReportStatuses     = []string{"pending", "complete", "failed"}
	Categories         = []string{"total", "year", "season", "month", "weekday", "hour", "date"}
)

// Metrics recognized by report parameters, across deterministic, event and
// probabilistic forecast evaluation.
var Metrics = []string{
	"mae", "mbe", "rmse", "mape", "s", "crmse", "r", "r^2", "ksi", "ks", "cost",
	"pod", "far", "pofd", "csi", "ebias", "ea",
	"bs", "bss", "rel", "res", "unc", "crps",
}

// Actions an RBAC permission can grant.
var Actions = []string{
	"create", "read", "update", "delete",
	"read_values", "write_values", "delete_values",
	"grant", "revoke",
}

// ObjectTypes an RBAC permission can govern.
var ObjectTypes = []string{
	"sites", "aggregates", "forecasts", "observations",
	"users", "roles", "permissions", "cdf_forecasts", "reports",
}

// oneOf reports whether v is among allowed.
func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func oneOfMessage(allowed []string) string {
	return "Must be one of: " + strings.Join(allowed, ", ") + "."
}

// variableNames returns the sorted variable enumeration.
func variableNames() []string {
	names := make([]string, 0, len(VariableUnits))
	for name := range VariableUnits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// userTextPattern bounds the characters accepted in user supplied names and
// descriptions, to keep them safe for logs, file names and report rendering.
var userTextPattern = regexp.MustCompile(`^[a-zA-Z0-9 ,'()=_/@\.\-]+$`)

const maxNameLength = 64

// checkName validates a user supplied display name into errs under field.
func checkName(errs FieldErrors, field, value string) {
	if value == "" {
		errs.Add(field, "Missing data for required field.")
		return
	}
	if len(value) > maxNameLength {
		errs.Add(field, fmt.Sprintf("Longer than maximum length %d.", maxNameLength))
	}
	if !userTextPattern.MatchString(value) {
		errs.Add(field, "Invalid characters in string.")
	}
}

// checkTimezone validates an IANA timezone name into errs under field.
func checkTimezone(errs FieldErrors, field, value string) {
	if value == "" {
		errs.Add(field, "Missing data for required field.")
		return
	}
	if _, err := time.LoadLocation(value); err != nil || value == "Local" {
		errs.Add(field, "Invalid timezone.")
	}
}

// checkTimeOfDay validates an HH:MM string into errs under field.
func checkTimeOfDay(errs FieldErrors, field, value string) {
	if _, err := time.Parse("15:04", value); err != nil {
		errs.Add(field, "Time not in HH:MM format.")
	}
}
