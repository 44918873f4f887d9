package calibration

import (
	"log/slog"

	"gonum.org/v1/gonum/optimize"
)

// progressRecorder logs optimizer progress every n major iterations.
type progressRecorder struct {
	logger *slog.Logger
	stage  string
	every  int
}

func newProgressRecorder(logger *slog.Logger, stage string, every int) optimize.Recorder {
	if logger == nil || every <= 0 {
		return nil
	}
	return &progressRecorder{logger: logger, stage: stage, every: every}
}

func (r *progressRecorder) Init() error { return nil }

func (r *progressRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	switch {
	case op == optimize.PostIteration:
		r.logger.Debug("optimizer finished", "stage", r.stage,
			"iterations", stats.MajorIterations, "evaluations", stats.FuncEvaluations, "best", loc.F)
	case op == optimize.MajorIteration && stats.MajorIterations%r.every == 0:
		r.logger.Debug("optimizer progress", "stage", r.stage,
			"iteration", stats.MajorIterations, "evaluations", stats.FuncEvaluations, "best", loc.F)
	}
	return nil
}
