package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Cost model types. Each carries its own parameter shape; errorband nests
// one of the other three per band and never another errorband.
const (
	CostConstant  = "constant"
	CostTimeOfDay = "timeofday"
	CostDatetime  = "datetime"
	CostErrorBand = "errorband"
)

// ConstantCost prices every error unit the same.
type ConstantCost struct {
	Cost        *float64 `json:"cost"`
	Aggregation string   `json:"aggregation"`
	Net         *bool    `json:"net"`
}

func (c *ConstantCost) validate(errs FieldErrors) {
	if c.Cost == nil {
		errs.Add("cost", "Missing data for required field.")
	}
	if !oneOf(c.Aggregation, CostAggregations) {
		errs.Add("aggregation", oneOfMessage(CostAggregations))
	}
	if c.Net == nil {
		errs.Add("net", "Missing data for required field.")
	}
}

// TimeOfDayCost prices errors by wall clock time of day.
type TimeOfDayCost struct {
	Times       []string  `json:"times"`
	Cost        []float64 `json:"cost"`
	Aggregation string    `json:"aggregation"`
	Net         *bool     `json:"net"`
	Fill        string    `json:"fill"`
	Timezone    *string   `json:"timezone"`
}

func (c *TimeOfDayCost) validate(errs FieldErrors) {
	if len(c.Times) == 0 {
		errs.Add("times", "Missing data for required field.")
	}
	for i, t := range c.Times {
		checkTimeOfDay(errs, indexedField("times", i, "time"), t)
	}
	if len(c.Cost) != len(c.Times) {
		errs.Add("cost", "Cost must have the same length as times.")
	}
	if !oneOf(c.Aggregation, CostAggregations) {
		errs.Add("aggregation", oneOfMessage(CostAggregations))
	}
	if c.Net == nil {
		errs.Add("net", "Missing data for required field.")
	}
	if !oneOf(c.Fill, CostFills) {
		errs.Add("fill", oneOfMessage(CostFills))
	}
	if c.Timezone != nil {
		checkTimezone(errs, "timezone", *c.Timezone)
	}
}

// DatetimeCost prices errors by absolute time.
type DatetimeCost struct {
	Datetimes   []time.Time `json:"datetimes"`
	Cost        []float64   `json:"cost"`
	Aggregation string      `json:"aggregation"`
	Net         *bool       `json:"net"`
	Fill        string      `json:"fill"`
	Timezone    *string     `json:"timezone"`
}

func (c *DatetimeCost) validate(errs FieldErrors) {
	if len(c.Datetimes) == 0 {
		errs.Add("datetimes", "Missing data for required field.")
	}
	if len(c.Cost) != len(c.Datetimes) {
		errs.Add("cost", "Cost must have the same length as datetimes.")
	}
	if !oneOf(c.Aggregation, CostAggregations) {
		errs.Add("aggregation", oneOfMessage(CostAggregations))
	}
	if c.Net == nil {
		errs.Add("net", "Missing data for required field.")
	}
	if !oneOf(c.Fill, CostFills) {
		errs.Add("fill", oneOfMessage(CostFills))
	}
	if c.Timezone != nil {
		checkTimezone(errs, "timezone", *c.Timezone)
	}
}

// CostBand applies one non-errorband cost model to a range of error values.
type CostBand struct {
	ErrorRange             []float64      `json:"error_range"`
	CostFunction           string         `json:"cost_function"`
	CostFunctionParameters CostParameters `json:"cost_function_parameters"`
}

func (b *CostBand) validate(errs FieldErrors) {
	if len(b.ErrorRange) != 2 {
		errs.Add("error_range", "Must be a pair of error bounds.")
	}
	switch b.CostFunction {
	case CostConstant, CostTimeOfDay, CostDatetime:
	default:
		errs.Add("cost_function", "Must be one of: constant, timeofday, datetime.")
	}
	errs.Extend("cost_function_parameters", b.CostFunctionParameters.validate(b.CostFunction))
}

// ErrorBandCost applies different cost models to different error bands.
type ErrorBandCost struct {
	Bands []CostBand `json:"bands"`
}

func (c *ErrorBandCost) validate(errs FieldErrors) {
	if len(c.Bands) == 0 {
		errs.Add("bands", "Must provide at least one band.")
	}
	for i, band := range c.Bands {
		bandErrs := FieldErrors{}
		band.validate(bandErrs)
		errs.Extend("bands."+strconv.Itoa(i), bandErrs)
	}
}

// CostParameters holds exactly one cost model variant, discriminated by the
// enclosing type tag. Decoding defers to the tag, so the zero value plus
// decode populates the matching variant and nothing else.
type CostParameters struct {
	Constant  *ConstantCost
	TimeOfDay *TimeOfDayCost
	Datetime  *DatetimeCost
	ErrorBand *ErrorBandCost
}

func (p *CostParameters) decode(costType string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing cost parameters")
	}
	switch costType {
	case CostConstant:
		p.Constant = &ConstantCost{}
		return json.Unmarshal(raw, p.Constant)
	case CostTimeOfDay:
		p.TimeOfDay = &TimeOfDayCost{}
		return json.Unmarshal(raw, p.TimeOfDay)
	case CostDatetime:
		p.Datetime = &DatetimeCost{}
		return json.Unmarshal(raw, p.Datetime)
	case CostErrorBand:
		p.ErrorBand = &ErrorBandCost{}
		return json.Unmarshal(raw, p.ErrorBand)
	}
	return fmt.Errorf("unknown cost type %q", costType)
}

// validate dispatches to the variant matching costType. A mismatch between
// the tag and the populated variant is reported as a parameter error.
func (p *CostParameters) validate(costType string) FieldErrors {
	errs := FieldErrors{}
	switch costType {
	case CostConstant:
		if p.Constant == nil {
			errs.Add("parameters", "Parameters do not match cost type constant.")
			return errs
		}
		p.Constant.validate(errs)
	case CostTimeOfDay:
		if p.TimeOfDay == nil {
			errs.Add("parameters", "Parameters do not match cost type timeofday.")
			return errs
		}
		p.TimeOfDay.validate(errs)
	case CostDatetime:
		if p.Datetime == nil {
			errs.Add("parameters", "Parameters do not match cost type datetime.")
			return errs
		}
		p.Datetime.validate(errs)
	case CostErrorBand:
		if p.ErrorBand == nil {
			errs.Add("parameters", "Parameters do not match cost type errorband.")
			return errs
		}
		p.ErrorBand.validate(errs)
	}
	return errs
}

// MarshalJSON renders whichever variant is populated.
func (p CostParameters) MarshalJSON() ([]byte, error) {
	switch {
	case p.Constant != nil:
		return json.Marshal(p.Constant)
	case p.TimeOfDay != nil:
		return json.Marshal(p.TimeOfDay)
	case p.Datetime != nil:
		return json.Marshal(p.Datetime)
	case p.ErrorBand != nil:
		return json.Marshal(p.ErrorBand)
	}
	return []byte("null"), nil
}

// UnmarshalJSON exists so the tag-aware decoders below control how the
// variant is chosen; stray direct decodes are rejected.
func (p *CostParameters) UnmarshalJSON(data []byte) error {
	return fmt.Errorf("cost parameters require a type tag")
}

// UnmarshalJSON decodes the band's cost_function tag first, then the
// matching parameter variant.
func (b *CostBand) UnmarshalJSON(data []byte) error {
	var head struct {
		ErrorRange             []float64       `json:"error_range"`
		CostFunction           string          `json:"cost_function"`
		CostFunctionParameters json.RawMessage `json:"cost_function_parameters"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.ErrorRange = head.ErrorRange
	b.CostFunction = head.CostFunction
	switch b.CostFunction {
	case CostConstant, CostTimeOfDay, CostDatetime:
		if err := b.CostFunctionParameters.decode(b.CostFunction, head.CostFunctionParameters); err != nil {
			b.CostFunctionParameters = CostParameters{}
		}
	}
	return nil
}

// Cost is a named cost model referenced from report object pairs.
type Cost struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters CostParameters `json:"parameters"`
}

// UnmarshalJSON decodes the type tag first, then the matching parameter
// variant.
func (c *Cost) UnmarshalJSON(data []byte) error {
	var head struct {
		Name       string          `json:"name"`
		Type       string          `json:"type"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	c.Name = head.Name
	c.Type = head.Type
	switch c.Type {
	case CostConstant, CostTimeOfDay, CostDatetime, CostErrorBand:
		if err := c.Parameters.decode(c.Type, head.Parameters); err != nil {
			c.Parameters = CostParameters{}
		}
	}
	return nil
}

// Validate checks the cost definition and returns every violation at once.
func (c *Cost) Validate() FieldErrors {
	errs := FieldErrors{}
	checkName(errs, "name", c.Name)
	switch c.Type {
	case CostConstant, CostTimeOfDay, CostDatetime, CostErrorBand:
		errs.Extend("parameters", c.Parameters.validate(c.Type))
	default:
		errs.Add("type", "Must be one of: constant, timeofday, datetime, errorband.")
	}
	return errs
}

// Forecast types a report object pair can evaluate.
var ForecastTypes = []string{
	"forecast", "event_forecast",
	"probabilistic_forecast", "probabilistic_forecast_constant_value",
}

// ObjectPair names one forecast and the observation or aggregate it is
// evaluated against.
type ObjectPair struct {
	Forecast          uuid.UUID  `json:"forecast"`
	Observation       *uuid.UUID `json:"observation"`
	Aggregate         *uuid.UUID `json:"aggregate"`
	ReferenceForecast *uuid.UUID `json:"reference_forecast"`
	Uncertainty       *string    `json:"uncertainty"`
	Cost              *string    `json:"cost"`
	ForecastType      string     `json:"forecast_type"`
}

func (p *ObjectPair) validate(errs FieldErrors, costNames map[string]bool) {
	if p.Forecast == uuid.Nil {
		errs.Add("forecast", "Missing data for required field.")
	}
	switch {
	case p.Observation != nil && p.Aggregate != nil:
		errs.Add("observation", "Only one of observation or aggregate may be provided.")
		errs.Add("aggregate", "Only one of observation or aggregate may be provided.")
	case p.Observation == nil && p.Aggregate == nil:
		errs.Add("observation", "One of observation or aggregate must be provided.")
		errs.Add("aggregate", "One of observation or aggregate must be provided.")
	}
	if p.Uncertainty != nil && !validUncertainty(*p.Uncertainty) {
		errs.Add("uncertainty", "Must be observation_uncertainty or a percentage from 0 to 100.")
	}
	if p.Cost != nil && !costNames[*p.Cost] {
		errs.Add("cost", "Cost must be the name of a cost defined in report parameters.")
	}
	if p.ForecastType != "" && !oneOf(p.ForecastType, ForecastTypes) {
		errs.Add("forecast_type", oneOfMessage(ForecastTypes))
	}
}

func validUncertainty(v string) bool {
	if v == "observation_uncertainty" {
		return true
	}
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f >= 0 && f <= 100
}

// ReportParameters configures one evaluation run.
type ReportParameters struct {
	Name        string           `json:"name"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	ObjectPairs []ObjectPair     `json:"object_pairs"`
	Metrics     []string         `json:"metrics"`
	Categories  []string         `json:"categories"`
	Costs       []Cost           `json:"costs"`
	Filters     []map[string]any `json:"filters"`
}

// Validate checks the parameters and returns every violation at once.
func (p *ReportParameters) Validate() error {
	errs := FieldErrors{}
	checkName(errs, "name", p.Name)
	if p.Start.IsZero() {
		errs.Add("start", "Missing data for required field.")
	}
	if p.End.IsZero() {
		errs.Add("end", "Missing data for required field.")
	}
	if !p.Start.IsZero() && !p.End.IsZero() && !p.Start.Before(p.End) {
		errs.Add("end", "End must be after start.")
	}
	if len(p.Metrics) == 0 {
		errs.Add("metrics", "Missing data for required field.")
	}
	for _, m := range p.Metrics {
		if !oneOf(m, Metrics) {
			errs.Add("metrics", oneOfMessage(Metrics))
			break
		}
	}
	if oneOf("cost", p.Metrics) && len(p.Costs) == 0 {
		errs.Add("metrics", "Must specify 'costs' parameters to calculate cost metric.")
	}
	for _, c := range p.Categories {
		if !oneOf(c, Categories) {
			errs.Add("categories", oneOfMessage(Categories))
			break
		}
	}
	costNames := map[string]bool{}
	for i, cost := range p.Costs {
		errs.Extend("costs."+strconv.Itoa(i), cost.Validate())
		costNames[cost.Name] = true
	}
	if len(p.ObjectPairs) == 0 {
		errs.Add("object_pairs", "Must provide at least one object pair.")
	}
	for i, pair := range p.ObjectPairs {
		pairErrs := FieldErrors{}
		pair.validate(pairErrs, costNames)
		errs.Extend("object_pairs."+strconv.Itoa(i), pairErrs)
	}
	return errs.OrNil()
}

// RawReport is the worker-produced document: rendered plots, computed
// metric tables and processing messages.
type RawReport struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Timezone     string          `json:"timezone"`
	Versions     [][2]string     `json:"versions"`
	Plots        json.RawMessage `json:"plots"`
	Metrics      json.RawMessage `json:"metrics"`
	Processed    json.RawMessage `json:"processed_forecasts_observations"`
	Messages     []ReportMessage `json:"messages"`
	DataChecksum *string         `json:"data_checksum"`
}

// ReportMessage is one processing note emitted by the worker.
type ReportMessage struct {
	Message  string `json:"message"`
	StepName string `json:"step"`
	Level    string `json:"level"`
	Function string `json:"function"`
}

// ReportValue is a processed data series the worker stored for one of the
// report's input objects.
type ReportValue struct {
	ID              uuid.UUID `json:"id"`
	ObjectID        uuid.UUID `json:"object_id"`
	ProcessedValues string    `json:"processed_values"`
	CreatedAt       time.Time `json:"created_at"`
}

// Report is an evaluation of forecasts against measurements over a window.
type Report struct {
	ID               uuid.UUID        `json:"report_id"`
	Provider         string           `json:"provider"`
	ReportParameters ReportParameters `json:"report_parameters"`
	RawReport        *RawReport       `json:"raw_report"`
	Status           string           `json:"status"`
	Values           []ReportValue    `json:"values,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ModifiedAt       time.Time        `json:"modified_at"`
}

// ReportPost is the payload for creating a report.
type ReportPost struct {
	ReportParameters ReportParameters `json:"report_parameters"`
}

// Validate checks the creation payload.
func (r *ReportPost) Validate() error {
	errs := FieldErrors{}
	if err := r.ReportParameters.Validate(); err != nil {
		if fe, ok := AsFieldErrors(err); ok {
			errs.Extend("report_parameters", fe)
		} else {
			return err
		}
	}
	return errs.OrNil()
}

// ReportValuePost is the payload a worker uses to attach processed values.
type ReportValuePost struct {
	ObjectID        uuid.UUID `json:"object_id"`
	ProcessedValues string    `json:"processed_values"`
}

// Validate checks the worker payload.
func (r *ReportValuePost) Validate() error {
	errs := FieldErrors{}
	if r.ObjectID == uuid.Nil {
		errs.Add("object_id", "Missing data for required field.")
	}
	if r.ProcessedValues == "" {
		errs.Add("processed_values", "Missing data for required field.")
	}
	return errs.OrNil()
}
