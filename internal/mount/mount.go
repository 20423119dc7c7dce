// Package mount maps raw station-frame tracks into the 3-axis mount frame
// and folds azimuth into the mechanical travel band.
package mount

import (
	"github.com/star/trackgo/internal/track"
	"github.com/star/trackgo/internal/transform"
)

// Verdict is a keyhole judgement supplied by the caller in place of the
// stage's own.
type Verdict struct {
	Keyhole          bool
	RecommendedTrain float64
	Optimization     *track.Optimization
}

// Options adjust one stage.
type Options struct {
	Stage    track.DataType // zero selects the stage default
	Preserve *Verdict       // when set, replaces the stage's own judgement
}

// Transformer applies the mount geometry. It holds no mutable state and is
// safe for concurrent use.
type Transformer struct {
	frame  transform.MountFrame
	limits track.Limits
}

// NewTransformer creates a Transformer for a mount tilted by tilt degrees.
func NewTransformer(tilt float64, lim track.Limits) *Transformer {
	if lim.TravelLimit <= 0 {
		lim.TravelLimit = track.DefaultLimits().TravelLimit
	}
	return &Transformer{frame: transform.MountFrame{Tilt: tilt}, limits: lim}
}

// Tilt returns the mount tilt in degrees.
func (tf *Transformer) Tilt() float64 { return tf.frame.Tilt }

// Limits returns the keyhole and travel configuration.
func (tf *Transformer) Limits() track.Limits { return tf.limits }

// AxisTransform rotates every point of in into the mount frame using the
// same train angle, then recomputes metrics and the keyhole judgement.
// The result is tagged axis_transformed unless opts.Stage says otherwise.
// in is not modified.
func (tf *Transformer) AxisTransform(in track.Track, train float64, opts Options) track.Track {
	stage := opts.Stage
	if stage == "" {
		stage = track.AxisTransformed
	}
	rot := tf.frame.Rotator(train)

	points := make([]track.Point, len(in.Points))
	for i, p := range in.Points {
		az, el := rot.Angles(p.Azimuth, p.Elevation)
		tr := train
		p.Azimuth, p.Elevation = az, el
		p.Train = &tr
		p.Stage = stage
		points[i] = p
	}

	pass := in.Pass
	pass.Stage = stage
	pass.TrainAngle = train
	pass.Metrics = track.ComputeMetrics(points)
	tf.judge(&pass, opts)
	return track.Track{Pass: pass, Points: points}
}

// AngleLimit unwraps the azimuth sequence of in, computes metrics on the
// continuous values and only then folds each stored azimuth into the travel
// band. The result is tagged final_transformed unless opts.Stage says
// otherwise. in is not modified.
func (tf *Transformer) AngleLimit(in track.Track, opts Options) track.Track {
	stage := opts.Stage
	if stage == "" {
		stage = track.FinalTransformed
	}

	az := make([]float64, len(in.Points))
	for i, p := range in.Points {
		az[i] = p.Azimuth
	}
	unwrapped := transform.Unwrap(az)

	points := track.ClonePoints(in.Points)
	for i := range points {
		points[i].Azimuth = unwrapped[i]
		points[i].Stage = stage
	}
	m := track.ComputeMetrics(points)
	limit := tf.limits.TravelLimit
	for i := range points {
		points[i].Azimuth = transform.LimitTravel(points[i].Azimuth, limit)
	}
	m.MaxAzRateAzimuth = transform.LimitTravel(m.MaxAzRateAzimuth, limit)
	m.PeakElevationAzimuth = transform.LimitTravel(m.PeakElevationAzimuth, limit)

	pass := in.Pass
	pass.Stage = stage
	pass.Metrics = m
	tf.judge(&pass, opts)
	return track.Track{Pass: pass, Points: points}
}

// Apply runs AxisTransform then AngleLimit with the given stage tags and
// returns both records.
func (tf *Transformer) Apply(raw track.Track, train float64, axis, final Options) (track.Track, track.Track) {
	a := tf.AxisTransform(raw, train, axis)
	return a, tf.AngleLimit(a, final)
}

// PeakRate simulates the full transform and limit pipeline at train and
// returns the resulting peak azimuth rate.
func (tf *Transformer) PeakRate(raw track.Track, train float64) float64 {
	_, final := tf.Apply(raw, train, Options{}, Options{})
	return final.Pass.Metrics.MaxAzRate
}

func (tf *Transformer) judge(pass *track.Pass, opts Options) {
	if v := opts.Preserve; v != nil {
		pass.Keyhole = v.Keyhole
		pass.RecommendedTrain = v.RecommendedTrain
		pass.Optimization = v.Optimization
		return
	}
	pass.Keyhole, pass.RecommendedTrain = track.Assess(pass.Metrics, tf.limits, pass.TrainAngle)
	pass.Optimization = nil
}
