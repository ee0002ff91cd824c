package models

import (
	"time"

	"github.com/google/uuid"
)

// Forecast is a predicted time series tied to exactly one of a site or an
// aggregate.
type Forecast struct {
	ID                uuid.UUID  `json:"forecast_id"`
	Provider          string     `json:"provider"`
	SiteID            *uuid.UUID `json:"site_id"`
	AggregateID       *uuid.UUID `json:"aggregate_id"`
	Name              string     `json:"name"`
	Variable          string     `json:"variable"`
	IssueTimeOfDay    string     `json:"issue_time_of_day"`
	LeadTimeToStart   int        `json:"lead_time_to_start"`
	IntervalLabel     string     `json:"interval_label"`
	IntervalLength    int        `json:"interval_length"`
	RunLength         int        `json:"run_length"`
	IntervalValueType string     `json:"interval_value_type"`
	ExtraParameters   string     `json:"extra_parameters"`
	CreatedAt         time.Time  `json:"created_at"`
	ModifiedAt        time.Time  `json:"modified_at"`
}

// Interval returns the interval length as a duration.
func (f *Forecast) Interval() time.Duration {
	return time.Duration(f.IntervalLength) * time.Minute
}

// ForecastPost is the payload for creating a forecast.
type ForecastPost struct {
	SiteID            *uuid.UUID `json:"site_id"`
	AggregateID       *uuid.UUID `json:"aggregate_id"`
	Name              string     `json:"name"`
	Variable          string     `json:"variable"`
	IssueTimeOfDay    string     `json:"issue_time_of_day"`
	LeadTimeToStart   int        `json:"lead_time_to_start"`
	IntervalLabel     string     `json:"interval_label"`
	IntervalLength    int        `json:"interval_length"`
	RunLength         int        `json:"run_length"`
	IntervalValueType string     `json:"interval_value_type"`
	ExtraParameters   string     `json:"extra_parameters"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *ForecastPost) Validate() error {
	errs := FieldErrors{}
	checkForecastLocation(errs, r.SiteID, r.AggregateID)
	checkName(errs, "name", r.Name)
	if !oneOf(r.Variable, variableNames()) {
		errs.Add("variable", oneOfMessage(variableNames()))
	}
	checkTimeOfDay(errs, "issue_time_of_day", r.IssueTimeOfDay)
	if r.LeadTimeToStart < 0 {
		errs.Add("lead_time_to_start", "Must be greater than or equal to 0.")
	}
	if !oneOf(r.IntervalLabel, IntervalLabels) {
		errs.Add("interval_label", oneOfMessage(IntervalLabels))
	}
	if r.IntervalLength < 1 {
		errs.Add("interval_length", "Must be greater than or equal to 1.")
	}
	if r.RunLength < 1 {
		errs.Add("run_length", "Must be greater than or equal to 1.")
	}
	if !oneOf(r.IntervalValueType, IntervalValueTypes) {
		errs.Add("interval_value_type", oneOfMessage(IntervalValueTypes))
	}
	checkEventConsistency(errs, r.Variable, r.IntervalLabel, r.IntervalValueType)
	return errs.OrNil()
}

// Forecast builds the resource from a validated payload.
func (r *ForecastPost) Forecast() Forecast {
	return Forecast{
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
	}
}

// ForecastUpdate is a partial update of the mutable forecast fields.
type ForecastUpdate struct {
	Name            *string `json:"name"`
	ExtraParameters *string `json:"extra_parameters"`
}

// Apply merges the update into existing and validates the merged result.
func (r *ForecastUpdate) Apply(existing Forecast) (Forecast, error) {
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
		return Forecast{}, err
	}
	return merged, nil
}

// checkForecastLocation enforces that exactly one of site_id and
// aggregate_id is present.
func checkForecastLocation(errs FieldErrors, siteID, aggregateID *uuid.UUID) {
	switch {
	case siteID != nil && aggregateID != nil:
		errs.Add("site_id", "Only one of site_id or aggregate_id may be provided.")
		errs.Add("aggregate_id", "Only one of site_id or aggregate_id may be provided.")
	case siteID == nil && aggregateID == nil:
		errs.Add("site_id", "One of site_id or aggregate_id must be provided.")
		errs.Add("aggregate_id", "One of site_id or aggregate_id must be provided.")
	}
}
