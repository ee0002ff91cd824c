package models

import (
	"time"

	"github.com/google/uuid"
)

// Observation is a measured time series tied to a site.
type Observation struct {
	ID                uuid.UUID `json:"observation_id"`
	Provider          string    `json:"provider"`
	SiteID            uuid.UUID `json:"site_id"`
	Name              string    `json:"name"`
	Variable          string    `json:"variable"`
	IntervalLabel     string    `json:"interval_label"`
	IntervalLength    int       `json:"interval_length"`
	IntervalValueType string    `json:"interval_value_type"`
	Uncertainty       float64   `json:"uncertainty"`
	ExtraParameters   string    `json:"extra_parameters"`
	CreatedAt         time.Time `json:"created_at"`
	ModifiedAt        time.Time `json:"modified_at"`
}

// Interval returns the interval length as a duration.
func (o *Observation) Interval() time.Duration {
	return time.Duration(o.IntervalLength) * time.Minute
}

// ObservationPost is the payload for creating an observation.
type ObservationPost struct {
	SiteID            uuid.UUID `json:"site_id"`
	Name              string    `json:"name"`
	Variable          string    `json:"variable"`
	IntervalLabel     string    `json:"interval_label"`
	IntervalLength    int       `json:"interval_length"`
	IntervalValueType string    `json:"interval_value_type"`
	Uncertainty       *float64  `json:"uncertainty"`
	ExtraParameters   string    `json:"extra_parameters"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *ObservationPost) Validate() error {
	errs := FieldErrors{}
	if r.SiteID == uuid.Nil {
		errs.Add("site_id", "Missing data for required field.")
	}
	checkName(errs, "name", r.Name)
	if !oneOf(r.Variable, variableNames()) {
		errs.Add("variable", oneOfMessage(variableNames()))
	}
	if !oneOf(r.IntervalLabel, IntervalLabels) {
		errs.Add("interval_label", oneOfMessage(IntervalLabels))
	}
	if r.IntervalLength < 1 {
		errs.Add("interval_length", "Must be greater than or equal to 1.")
	}
	if !oneOf(r.IntervalValueType, IntervalValueTypes) {
		errs.Add("interval_value_type", oneOfMessage(IntervalValueTypes))
	}
	if r.Uncertainty == nil {
		errs.Add("uncertainty", "Missing data for required field.")
	}
	checkEventConsistency(errs, r.Variable, r.IntervalLabel, r.IntervalValueType)
	return errs.OrNil()
}

// Observation builds the resource from a validated payload.
func (r *ObservationPost) Observation() Observation {
	return Observation{
		SiteID:            r.SiteID,
		Name:              r.Name,
		Variable:          r.Variable,
		IntervalLabel:     r.IntervalLabel,
		IntervalLength:    r.IntervalLength,
		IntervalValueType: r.IntervalValueType,
		Uncertainty:       *r.Uncertainty,
		ExtraParameters:   r.ExtraParameters,
	}
}

// ObservationUpdate is a partial update of the mutable observation fields.
// The variable, site binding and interval shape are fixed at creation.
type ObservationUpdate struct {
	Name            *string  `json:"name"`
	Uncertainty     *float64 `json:"uncertainty"`
	ExtraParameters *string  `json:"extra_parameters"`
}

// Apply merges the update into existing and validates the merged result.
func (r *ObservationUpdate) Apply(existing Observation) (Observation, error) {
	errs := FieldErrors{}
	merged := existing
	if r.Name != nil {
		merged.Name = *r.Name
		checkName(errs, "name", merged.Name)
	}
	if r.Uncertainty != nil {
		merged.Uncertainty = *r.Uncertainty
	}
	if r.ExtraParameters != nil {
		merged.ExtraParameters = *r.ExtraParameters
	}
	if err := errs.OrNil(); err != nil {
		return Observation{}, err
	}
	return merged, nil
}

// checkEventConsistency enforces that event data is labeled and typed as
// events, and that nothing else is.
func checkEventConsistency(errs FieldErrors, variable, label, valueType string) {
	if variable == "event" {
		if label != "event" {
			errs.Add("interval_label", "Interval label must be event when variable is event.")
		}
		if valueType != "instantaneous" {
			errs.Add("interval_value_type", "Interval value type must be instantaneous when variable is event.")
		}
	} else if label == "event" {
		errs.Add("interval_label", "Interval label event only valid when variable is event.")
	}
}
