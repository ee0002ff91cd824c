package models

import (
	"time"

	"github.com/google/uuid"
)

// AggregateObservation is one membership record of an observation in an
// aggregate. A membership is active while EffectiveUntil is null and
// retired once it is set; re-adding a retired observation creates a new
// record, so history is preserved.
type AggregateObservation struct {
	ObservationID        uuid.UUID  `json:"observation_id"`
	EffectiveFrom        *time.Time `json:"effective_from"`
	EffectiveUntil       *time.Time `json:"effective_until"`
	ObservationDeletedAt *time.Time `json:"observation_deleted_at"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Active reports whether the membership currently contributes data.
func (m *AggregateObservation) Active() bool {
	return m.EffectiveUntil == nil && m.ObservationDeletedAt == nil
}

// Aggregate is a computed combination of observation series.
type Aggregate struct {
	ID                uuid.UUID              `json:"aggregate_id"`
	Provider          string                 `json:"provider"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Variable          string                 `json:"variable"`
	IntervalLabel     string                 `json:"interval_label"`
	IntervalLength    int                    `json:"interval_length"`
	IntervalValueType string                 `json:"interval_value_type"`
	AggregateType     string                 `json:"aggregate_type"`
	Timezone          string                 `json:"timezone"`
	ExtraParameters   string                 `json:"extra_parameters"`
	Observations      []AggregateObservation `json:"observations"`
	CreatedAt         time.Time              `json:"created_at"`
	ModifiedAt        time.Time              `json:"modified_at"`
}

// Interval returns the interval length as a duration.
func (a *Aggregate) Interval() time.Duration {
	return time.Duration(a.IntervalLength) * time.Minute
}

// AggregatePost is the payload for creating an aggregate. Member
// observations are attached afterwards through membership updates.
type AggregatePost struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Variable        string `json:"variable"`
	IntervalLabel   string `json:"interval_label"`
	IntervalLength  int    `json:"interval_length"`
	AggregateType   string `json:"aggregate_type"`
	Timezone        string `json:"timezone"`
	ExtraParameters string `json:"extra_parameters"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *AggregatePost) Validate() error {
	errs := FieldErrors{}
	checkName(errs, "name", r.Name)
	if !oneOf(r.Variable, variableNames()) {
		errs.Add("variable", oneOfMessage(variableNames()))
	}
	// Instantaneous aggregates are not computable from interval averages,
	// so only beginning and ending labels are allowed here.
	if r.IntervalLabel != "beginning" && r.IntervalLabel != "ending" {
		errs.Add("interval_label", "Must be one of: beginning, ending.")
	}
	if r.IntervalLength < 1 {
		errs.Add("interval_length", "Must be greater than or equal to 1.")
	}
	if !oneOf(r.AggregateType, AggregateTypes) {
		errs.Add("aggregate_type", oneOfMessage(AggregateTypes))
	}
	checkTimezone(errs, "timezone", r.Timezone)
	return errs.OrNil()
}

// Aggregate builds the resource from a validated payload.
func (r *AggregatePost) Aggregate() Aggregate {
	return Aggregate{
		Name:              r.Name,
		Description:       r.Description,
		Variable:          r.Variable,
		IntervalLabel:     r.IntervalLabel,
		IntervalLength:    r.IntervalLength,
		IntervalValueType: "interval_mean",
		AggregateType:     r.AggregateType,
		Timezone:          r.Timezone,
		ExtraParameters:   r.ExtraParameters,
	}
}

// AggregateUpdate is a partial update of aggregate metadata plus a list of
// membership mutations applied in order.
type AggregateUpdate struct {
	Name            *string                      `json:"name"`
	Description     *string                      `json:"description"`
	Timezone        *string                      `json:"timezone"`
	ExtraParameters *string                      `json:"extra_parameters"`
	Observations    []AggregateObservationChange `json:"observations"`
}

// AggregateObservationChange adds or retires one observation membership.
// Exactly one of effective_from and effective_until must be set: from adds
// the observation, until retires it.
type AggregateObservationChange struct {
	ObservationID  uuid.UUID  `json:"observation_id"`
	EffectiveFrom  *time.Time `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until"`
}

// Validate checks the update payload and returns every violation at once.
func (r *AggregateUpdate) Validate() error {
	errs := FieldErrors{}
	if r.Name != nil {
		checkName(errs, "name", *r.Name)
	}
	if r.Timezone != nil {
		checkTimezone(errs, "timezone", *r.Timezone)
	}
	for i, obs := range r.Observations {
		if obs.ObservationID == uuid.Nil {
			errs.Add(indexedField("observations", i, "observation_id"), "Missing data for required field.")
		}
		set := 0
		if obs.EffectiveFrom != nil {
			set++
		}
		if obs.EffectiveUntil != nil {
			set++
		}
		if set != 1 {
			errs.Add(indexedField("observations", i, "effective_from"),
				"Specify one of effective_from or effective_until.")
		}
	}
	return errs.OrNil()
}

// Apply merges the metadata portion of the update into existing. Membership
// changes are applied separately since they touch other rows.
func (r *AggregateUpdate) Apply(existing Aggregate) Aggregate {
	merged := existing
	if r.Name != nil {
		merged.Name = *r.Name
	}
	if r.Description != nil {
		merged.Description = *r.Description
	}
	if r.Timezone != nil {
		merged.Timezone = *r.Timezone
	}
	if r.ExtraParameters != nil {
		merged.ExtraParameters = *r.ExtraParameters
	}
	return merged
}
