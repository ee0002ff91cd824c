package models

import (
	"time"

	"github.com/google/uuid"
)

// CDF forecast axes. With axis x the constant values are thresholds of the
// variable and the series hold probabilities; with axis y the constant
// values are percentiles and the series hold variable values.
const (
	AxisX = "x"
	AxisY = "y"
)

// CDFForecastSingle is one member distribution curve of a probabilistic
// forecast group. It owns its own value series but its metadata, other than
// the constant value, is inherited from the group.
type CDFForecastSingle struct {
	ID            uuid.UUID `json:"forecast_id"`
	ConstantValue float64   `json:"constant_value"`
	CreatedAt     time.Time `json:"created_at"`
}

// CDFForecastGroup is a probabilistic forecast: shared forecast metadata
// plus an axis and one single per constant value.
type CDFForecastGroup struct {
	ID                uuid.UUID           `json:"forecast_id"`
	Provider          string              `json:"provider"`
	SiteID            *uuid.UUID          `json:"site_id"`
	AggregateID       *uuid.UUID          `json:"aggregate_id"`
	Name              string              `json:"name"`
	Variable          string              `json:"variable"`
	IssueTimeOfDay    string              `json:"issue_time_of_day"`
	LeadTimeToStart   int                 `json:"lead_time_to_start"`
	IntervalLabel     string              `json:"interval_label"`
	IntervalLength    int                 `json:"interval_length"`
	RunLength         int                 `json:"run_length"`
	IntervalValueType string              `json:"interval_value_type"`
	ExtraParameters   string              `json:"extra_parameters"`
	Axis              string              `json:"axis"`
	ConstantValues    []CDFForecastSingle `json:"constant_values"`
	CreatedAt         time.Time           `json:"created_at"`
	ModifiedAt        time.Time           `json:"modified_at"`
}

// Interval returns the interval length as a duration.
func (g *CDFForecastGroup) Interval() time.Duration {
	return time.Duration(g.IntervalLength) * time.Minute
}

// CDFForecastGroupPost is the payload for creating a probabilistic
// forecast group.
type CDFForecastGroupPost struct {
	ForecastPost
	Axis           string    `json:"axis"`
	ConstantValues []float64 `json:"constant_values"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *CDFForecastGroupPost) Validate() error {
	errs := FieldErrors{}
	if err := r.ForecastPost.Validate(); err != nil {
		if fe, ok := AsFieldErrors(err); ok {
			errs.Extend("", fe)
		} else {
			return err
		}
	}
	if r.Axis != AxisX && r.Axis != AxisY {
		errs.Add("axis", "Must be one of: x, y.")
	}
	if len(r.ConstantValues) == 0 {
		errs.Add("constant_values", "Must provide at least one constant value.")
	}
	seen := map[float64]bool{}
	for _, cv := range r.ConstantValues {
		if seen[cv] {
			errs.Add("constant_values", "Constant values must be unique.")
			break
		}
		seen[cv] = true
	}
	return errs.OrNil()
}

// Group builds the resource from a validated payload.
func (r *CDFForecastGroupPost) Group() CDFForecastGroup {
	g := CDFForecastGroup{
		SiteID:            r.SiteID,
		AggregateID:       r.AggregateID,
		Name:              r.Name,
		Variable:          r.Variable,
		IssueTimeOfDay:    r.IssueTimeOfDay,
		LeadTimeToStart:   r.LeadTimeToStart,
		IntervalLabel:     r.IntervalLabel,
		IntervalLength:    r.IntervalLength,
		RunLength:         r.RunLength,
		IntervalValueType: r.IntervalValueType,
		ExtraParameters:   r.ExtraParameters,
		Axis:              r.Axis,
	}
	for _, cv := range r.ConstantValues {
		g.ConstantValues = append(g.ConstantValues, CDFForecastSingle{ConstantValue: cv})
	}
	return g
}

// CDFForecastGroupUpdate is a partial update of the mutable group fields.
// The axis and constant value set are fixed at creation.
type CDFForecastGroupUpdate struct {
	Name            *string `json:"name"`
	ExtraParameters *string `json:"extra_parameters"`
}

// Apply merges the update into existing and validates the merged result.
func (r *CDFForecastGroupUpdate) Apply(existing CDFForecastGroup) (CDFForecastGroup, error) {
	errs := FieldErrors{}
	merged := existing
	if r.Name != nil {
		merged.Name = *r.Name
		checkName(errs, "name", merged.Name)
	}
	if r.ExtraParameters != nil {
		merged.ExtraParameters = *r.ExtraParameters
	}
	if err := errs.OrNil(); err != nil {
		return CDFForecastGroup{}, err
	}
	return merged, nil
}
