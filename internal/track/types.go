// Package track defines the records that flow through the tracking
// pipeline and the pure functions shared by its stages.
package track

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataType tags the pipeline stage that produced a pass and its points.
type DataType string

const (
	Raw                   DataType = "raw"
	AxisTransformed       DataType = "axis_transformed"
	FinalTransformed      DataType = "final_transformed"
	KeyholeAxisHeuristic  DataType = "keyhole_axis_heuristic"
	KeyholeFinalHeuristic DataType = "keyhole_final_heuristic"
	KeyholeAxisOptimized  DataType = "keyhole_axis_optimized"
	KeyholeFinalOptimized DataType = "keyhole_final_optimized"
)

// DataTypes lists every stage in pipeline order.
var DataTypes = []DataType{
	Raw, AxisTransformed, FinalTransformed,
	KeyholeAxisHeuristic, KeyholeFinalHeuristic,
	KeyholeAxisOptimized, KeyholeFinalOptimized,
}

// ParseDataType validates a stage tag.
func ParseDataType(s string) (DataType, error) {
	for _, d := range DataTypes {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// Final reports whether the stage's azimuths are limited to the travel band.
func (d DataType) Final() bool {
	return d == FinalTransformed || d == KeyholeFinalHeuristic || d == KeyholeFinalOptimized
}

// Keyhole reports whether the stage belongs to a keyhole branch.
func (d DataType) Keyhole() bool {
	switch d {
	case KeyholeAxisHeuristic, KeyholeFinalHeuristic, KeyholeAxisOptimized, KeyholeFinalOptimized:
		return true
	}
	return false
}

// Window is one visibility window found by the scan.
type Window struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PeakElevation float64   `json:"peak_elevation"`
	PeakTime      time.Time `json:"peak_time"`
	PeakAzimuth   float64   `json:"peak_azimuth"`
	MaxAzRate     float64   `json:"max_az_rate"`
	MaxElRate     float64   `json:"max_el_rate"`
	MaxAzAccel    float64   `json:"max_az_accel"`
	MaxElAccel    float64   `json:"max_el_accel"`
}

// Duration returns End − Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Metrics are the pass-level figures derived from a point sequence by
// ComputeMetrics.
type Metrics struct {
	PeakElevation        float64   `json:"peak_elevation"`
	PeakElevationTime    time.Time `json:"peak_elevation_time"`
	PeakElevationAzimuth float64   `json:"peak_elevation_azimuth"`

	MaxAzRate        float64   `json:"max_az_rate"`
	MaxAzRateTime    time.Time `json:"max_az_rate_time"`
	MaxAzRateAzimuth float64   `json:"max_az_rate_azimuth"`
	MaxElRate        float64   `json:"max_el_rate"`

	MaxAzAccel float64 `json:"max_az_accel"`
	MaxElAccel float64 `json:"max_el_accel"`
}

// Optimization records the optimizer's outcome on its own derivative pass.
// Downstream stages carry it unchanged.
type Optimization struct {
	Angle          float64 `json:"angle"`
	PeakRate       float64 `json:"peak_rate"`
	Evaluations    int     `json:"evaluations"`
	HeuristicAngle float64 `json:"heuristic_angle"`
	HeuristicRate  float64 `json:"heuristic_rate"`
}

// Pass is one tracking pass at one pipeline stage. Derivative stages reuse
// the raw pass's ID and differ only by Stage.
type Pass struct {
	ID      int64    `json:"id"`
	Detail  int      `json:"detail"`
	SatID   int      `json:"sat_id"`
	SatName string   `json:"sat_name"`
	Stage   DataType `json:"stage"`

	Window  Window  `json:"window"`
	Metrics Metrics `json:"metrics"`

	Keyhole          bool          `json:"keyhole"`
	RecommendedTrain float64       `json:"recommended_train"`
	TrainAngle       float64       `json:"train_angle"`
	Optimization     *Optimization `json:"optimization,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	BatchID   uuid.UUID `json:"batch_id"`
}

// Point is one sample of a pass.
type Point struct {
	PassID     int64     `json:"pass_id"`
	Index      int       `json:"index"`
	Time       time.Time `json:"time"`
	Azimuth    float64   `json:"azimuth"`
	Elevation  float64   `json:"elevation"`
	RangeKm    float64   `json:"range_km"`
	AltitudeKm float64   `json:"altitude_km"`
	Train      *float64  `json:"train,omitempty"`
	Stage      DataType  `json:"stage"`
}

// Track is a pass together with its ordered points.
type Track struct {
	Pass   Pass    `json:"pass"`
	Points []Point `json:"points"`
}

// Restamp assigns id to the pass and all of its points.
func (t *Track) Restamp(id int64) {
	t.Pass.ID = id
	for i := range t.Points {
		t.Points[i].PassID = id
	}
}

// ClonePoints returns a deep copy of points, including Train pointers.
func ClonePoints(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	for i := range out {
		if out[i].Train != nil {
			v := *out[i].Train
			out[i].Train = &v
		}
	}
	return out
}

// Limits holds the keyhole and travel configuration shared by the stages.
type Limits struct {
	AzRateThreshold float64 // keyhole trigger, degrees per rate window
	RefOffset       float64 // mount reference heading offset from train zero
	TravelLimit     float64 // azimuth travel, ±degrees
}

// DefaultLimits returns the nominal mount configuration.
func DefaultLimits() Limits {
	return Limits{AzRateThreshold: 2.0, RefOffset: 7.0, TravelLimit: 270.0}
}
