package keyhole

import (
	"context"
	"log/slog"

	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/mount"
	"github.com/star/trackgo/internal/track"
)

// PassLookup resolves raw parent passes by id.
type PassLookup interface {
	Raw(id int64) (track.Track, bool)
}

// Processor produces the keyhole derivative records for flagged passes.
type Processor struct {
	tf        *mount.Transformer
	optimizer *Optimizer
	optimize  bool
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// NewProcessor creates a Processor. With optimize false only the heuristic
// branch is produced.
func NewProcessor(tf *mount.Transformer, opt *Optimizer, optimize bool, logger *slog.Logger, m *metrics.Collector) *Processor {
	return &Processor{tf: tf, optimizer: opt, optimize: optimize, logger: logger, metrics: m}
}

// Process looks up the raw pass id, re-runs the zero-train pipeline and, if
// that flags a keyhole, returns the derivative records. A missing parent is
// logged and skipped.
func (p *Processor) Process(ctx context.Context, lookup PassLookup, id int64) ([]track.Track, error) {
	raw, ok := lookup.Raw(id)
	if !ok {
		p.logger.Warn("keyhole parent pass not found, skipping", "pass_id", id)
		return nil, nil
	}
	_, final := p.tf.Apply(raw, 0, mount.Options{}, mount.Options{})
	if !final.Pass.Keyhole {
		return nil, nil
	}
	return p.Branch(ctx, raw, final)
}

// ProcessAll runs Process for each id. One pass's failure is logged and
// does not stop the others; only cancellation is returned.
func (p *Processor) ProcessAll(ctx context.Context, lookup PassLookup, ids []int64) ([]track.Track, error) {
	var out []track.Track
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tracks, err := p.Process(ctx, lookup, id)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			p.logger.Warn("keyhole branch failed", "pass_id", id, "error", err)
			continue
		}
		out = append(out, tracks...)
	}
	return out, nil
}

// Branch builds the keyhole records for raw given its zero-train final
// record: heuristic axis and final, then optimized axis and final. The
// optimized records carry the optimizer's outcome as authoritative.
func (p *Processor) Branch(ctx context.Context, raw, final track.Track) ([]track.Track, error) {
	lim := p.tf.Limits()
	heuristic := HeuristicAngle(raw, final, lim)
	p.metrics.KeyholePass()

	hAxis, hFinal := p.tf.Apply(raw, heuristic,
		mount.Options{Stage: track.KeyholeAxisHeuristic},
		mount.Options{Stage: track.KeyholeFinalHeuristic})
	out := []track.Track{hAxis, hFinal}
	if !p.optimize {
		return out, nil
	}

	res, err := p.optimizer.Optimize(ctx, raw, heuristic)
	if err != nil {
		return nil, err
	}
	p.metrics.AddOptimizerEvaluations(res.Evaluations)

	v := &mount.Verdict{
		Keyhole:          true,
		RecommendedTrain: res.Angle,
		Optimization: &track.Optimization{
			Angle:          res.Angle,
			PeakRate:       res.PeakRate,
			Evaluations:    res.Evaluations,
			HeuristicAngle: res.Heuristic,
			HeuristicRate:  res.HeuristicRate,
		},
	}
	oAxis, oFinal := p.tf.Apply(raw, res.Angle,
		mount.Options{Stage: track.KeyholeAxisOptimized, Preserve: v},
		mount.Options{Stage: track.KeyholeFinalOptimized, Preserve: v})

	p.logger.Info("keyhole train angle optimized",
		"pass_id", raw.Pass.ID,
		"sat_id", raw.Pass.SatID,
		"zero_train_rate", final.Pass.Metrics.MaxAzRate,
		"heuristic_angle", res.Heuristic,
		"heuristic_rate", res.HeuristicRate,
		"optimized_angle", res.Angle,
		"optimized_rate", res.PeakRate,
		"evaluations", res.Evaluations,
	)
	return append(out, oAxis, oFinal), nil
}
