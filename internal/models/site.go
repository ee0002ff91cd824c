package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tracking types a power plant site can declare. The tracking type decides
// which modeling parameter fields are meaningful; every other field must be
// absent.
const (
	TrackingNone       = ""
	TrackingFixed      = "fixed"
	TrackingSingleAxis = "single_axis"
)

// ModelingParameters describes the power plant at a site. A site without a
// plant carries a null tracking type and no plant fields at all. Fixed
// mount plants carry the common fields plus surface orientation; single
// axis trackers carry the common fields plus axis geometry.
type ModelingParameters struct {
	TrackingType           *string  `json:"tracking_type"`
	ACCapacity             *float64 `json:"ac_capacity"`
	DCCapacity             *float64 `json:"dc_capacity"`
	TemperatureCoefficient *float64 `json:"temperature_coefficient"`
	DCLossFactor           *float64 `json:"dc_loss_factor"`
	ACLossFactor           *float64 `json:"ac_loss_factor"`
	SurfaceTilt            *float64 `json:"surface_tilt"`
	SurfaceAzimuth         *float64 `json:"surface_azimuth"`
	AxisTilt               *float64 `json:"axis_tilt"`
	AxisAzimuth            *float64 `json:"axis_azimuth"`
	GroundCoverageRatio    *float64 `json:"ground_coverage_ratio"`
	Backtrack              *bool    `json:"backtrack"`
	MaxRotationAngle       *float64 `json:"max_rotation_angle"`
}

// Kind returns the tracking type, with nil normalized to TrackingNone.
func (p *ModelingParameters) Kind() string {
	if p.TrackingType == nil {
		return TrackingNone
	}
	return *p.TrackingType
}

type modelingField struct {
	name  string
	isSet func(*ModelingParameters) bool
	clear func(*ModelingParameters)
}

var (
	commonModelingFields = []modelingField{
		{"ac_capacity", func(p *ModelingParameters) bool { return p.ACCapacity != nil }, func(p *ModelingParameters) { p.ACCapacity = nil }},
		{"dc_capacity", func(p *ModelingParameters) bool { return p.DCCapacity != nil }, func(p *ModelingParameters) { p.DCCapacity = nil }},
		{"temperature_coefficient", func(p *ModelingParameters) bool { return p.TemperatureCoefficient != nil }, func(p *ModelingParameters) { p.TemperatureCoefficient = nil }},
		{"dc_loss_factor", func(p *ModelingParameters) bool { return p.DCLossFactor != nil }, func(p *ModelingParameters) { p.DCLossFactor = nil }},
		{"ac_loss_factor", func(p *ModelingParameters) bool { return p.ACLossFactor != nil }, func(p *ModelingParameters) { p.ACLossFactor = nil }},
	}
	fixedModelingFields = []modelingField{
		{"surface_tilt", func(p *ModelingParameters) bool { return p.SurfaceTilt != nil }, func(p *ModelingParameters) { p.SurfaceTilt = nil }},
		{"surface_azimuth", func(p *ModelingParameters) bool { return p.SurfaceAzimuth != nil }, func(p *ModelingParameters) { p.SurfaceAzimuth = nil }},
	}
	singleAxisModelingFields = []modelingField{
		{"axis_tilt", func(p *ModelingParameters) bool { return p.AxisTilt != nil }, func(p *ModelingParameters) { p.AxisTilt = nil }},
		{"axis_azimuth", func(p *ModelingParameters) bool { return p.AxisAzimuth != nil }, func(p *ModelingParameters) { p.AxisAzimuth = nil }},
		{"ground_coverage_ratio", func(p *ModelingParameters) bool { return p.GroundCoverageRatio != nil }, func(p *ModelingParameters) { p.GroundCoverageRatio = nil }},
		{"backtrack", func(p *ModelingParameters) bool { return p.Backtrack != nil }, func(p *ModelingParameters) { p.Backtrack = nil }},
		{"max_rotation_angle", func(p *ModelingParameters) bool { return p.MaxRotationAngle != nil }, func(p *ModelingParameters) { p.MaxRotationAngle = nil }},
	}
)

// Validate enforces the field partition for the declared tracking type.
// The switch is exhaustive over the three variants; an unknown tracking
// type is its own error and skips the partition checks.
func (p *ModelingParameters) Validate() FieldErrors {
	errs := FieldErrors{}
	var required, forbidden []modelingField
	var forbiddenMsg string
	switch p.Kind() {
	case TrackingNone:
		forbidden = concatFields(commonModelingFields, fixedModelingFields, singleAxisModelingFields)
		forbiddenMsg = "Field must be null/none when tracking_type is none."
	case TrackingFixed:
		required = concatFields(commonModelingFields, fixedModelingFields)
		forbidden = singleAxisModelingFields
		forbiddenMsg = "Field must be null/none when tracking_type is fixed."
	case TrackingSingleAxis:
		required = concatFields(commonModelingFields, singleAxisModelingFields)
		forbidden = fixedModelingFields
		forbiddenMsg = "Field must be null/none when tracking_type is single_axis."
	default:
		errs.Add("tracking_type", "Must be one of: fixed, single_axis.")
		return errs
	}
	for _, f := range required {
		if !f.isSet(p) {
			errs.Add(f.name, "Value required when tracking_type is "+p.Kind()+".")
		}
	}
	for _, f := range forbidden {
		if f.isSet(p) {
			errs.Add(f.name, forbiddenMsg)
		}
	}
	return errs
}

func concatFields(groups ...[]modelingField) []modelingField {
	var out []modelingField
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// MergeJSON applies a partial modeling parameter patch on top of p. Keys
// present in the patch overwrite the stored value; an explicit null clears
// it. The merged result still needs Validate, since a patch that switches
// tracking_type may leave stale fields from the old variant behind.
func (p *ModelingParameters) MergeJSON(patch json.RawMessage) (ModelingParameters, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(patch, &keys); err != nil {
		errs := FieldErrors{}
		errs.Add("modeling_parameters", "Not a valid mapping type.")
		return ModelingParameters{}, errs
	}
	merged := *p
	raw, err := json.Marshal(merged)
	if err != nil {
		return ModelingParameters{}, err
	}
	var base map[string]json.RawMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		return ModelingParameters{}, err
	}
	for k, v := range keys {
		base[k] = v
	}
	combined, err := json.Marshal(base)
	if err != nil {
		return ModelingParameters{}, err
	}
	var out ModelingParameters
	if err := json.Unmarshal(combined, &out); err != nil {
		errs := FieldErrors{}
		errs.Add("modeling_parameters", "Not a valid mapping type.")
		return ModelingParameters{}, errs
	}
	return out, nil
}

// Site is a measurement location, optionally hosting a power plant.
type Site struct {
	ID                 uuid.UUID          `json:"site_id"`
	Provider           string             `json:"provider"`
	Name               string             `json:"name"`
	Latitude           float64            `json:"latitude"`
	Longitude          float64            `json:"longitude"`
	Elevation          float64            `json:"elevation"`
	Timezone           string             `json:"timezone"`
	ModelingParameters ModelingParameters `json:"modeling_parameters"`
	ExtraParameters    string             `json:"extra_parameters"`
	CreatedAt          time.Time          `json:"created_at"`
	ModifiedAt         time.Time          `json:"modified_at"`
}

// SitePost is the payload for creating a site.
type SitePost struct {
	Name               string              `json:"name"`
	Latitude           *float64            `json:"latitude"`
	Longitude          *float64            `json:"longitude"`
	Elevation          *float64            `json:"elevation"`
	Timezone           string              `json:"timezone"`
	ModelingParameters *ModelingParameters `json:"modeling_parameters"`
	ExtraParameters    string              `json:"extra_parameters"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *SitePost) Validate() error {
	errs := FieldErrors{}
	checkName(errs, "name", r.Name)
	checkTimezone(errs, "timezone", r.Timezone)
	checkLatitude(errs, r.Latitude, true)
	checkLongitude(errs, r.Longitude, true)
	if r.Elevation == nil {
		errs.Add("elevation", "Missing data for required field.")
	}
	if r.ModelingParameters != nil {
		errs.Extend("modeling_parameters", r.ModelingParameters.Validate())
	}
	return errs.OrNil()
}

// Site builds the resource from a validated payload.
func (r *SitePost) Site() Site {
	s := Site{
		Name:            r.Name,
		Latitude:        *r.Latitude,
		Longitude:       *r.Longitude,
		Elevation:       *r.Elevation,
		Timezone:        r.Timezone,
		ExtraParameters: r.ExtraParameters,
	}
	if r.ModelingParameters != nil {
		s.ModelingParameters = *r.ModelingParameters
	}
	return s
}

// SiteUpdate is a partial update; nil fields are left unchanged. Modeling
// parameters merge key by key against the stored variant.
type SiteUpdate struct {
	Name               *string         `json:"name"`
	Latitude           *float64        `json:"latitude"`
	Longitude          *float64        `json:"longitude"`
	Elevation          *float64        `json:"elevation"`
	Timezone           *string         `json:"timezone"`
	ModelingParameters json.RawMessage `json:"modeling_parameters"`
	ExtraParameters    *string         `json:"extra_parameters"`
}

// Apply merges the update into existing and validates the merged result.
func (r *SiteUpdate) Apply(existing Site) (Site, error) {
	errs := FieldErrors{}
	merged := existing
	if r.Name != nil {
		merged.Name = *r.Name
		checkName(errs, "name", merged.Name)
	}
	if r.Latitude != nil {
		merged.Latitude = *r.Latitude
		checkLatitude(errs, r.Latitude, false)
	}
	if r.Longitude != nil {
		merged.Longitude = *r.Longitude
		checkLongitude(errs, r.Longitude, false)
	}
	if r.Elevation != nil {
		merged.Elevation = *r.Elevation
	}
	if r.Timezone != nil {
		merged.Timezone = *r.Timezone
		checkTimezone(errs, "timezone", merged.Timezone)
	}
	if r.ExtraParameters != nil {
		merged.ExtraParameters = *r.ExtraParameters
	}
	if len(r.ModelingParameters) > 0 {
		mp, err := existing.ModelingParameters.MergeJSON(r.ModelingParameters)
		if err != nil {
			if fe, ok := AsFieldErrors(err); ok {
				errs.Extend("", fe)
			} else {
				return Site{}, err
			}
		} else {
			merged.ModelingParameters = mp
			errs.Extend("modeling_parameters", mp.Validate())
		}
	}
	if err := errs.OrNil(); err != nil {
		return Site{}, err
	}
	return merged, nil
}

func checkLatitude(errs FieldErrors, v *float64, required bool) {
	if v == nil {
		if required {
			errs.Add("latitude", "Missing data for required field.")
		}
		return
	}
	if *v < -90 || *v > 90 {
		errs.Add("latitude", "Must be greater than or equal to -90 and less than or equal to 90.")
	}
}

func checkLongitude(errs FieldErrors, v *float64, required bool) {
	if v == nil {
		if required {
			errs.Add("longitude", "Missing data for required field.")
		}
		return
	}
	if *v < -180 || *v > 180 {
		errs.Add("longitude", "Must be greater than or equal to -180 and less than or equal to 180.")
	}
}
