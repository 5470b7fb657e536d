package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StepError reports which saga step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type sagaStep struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga runs steps in order. When a step fails, the compensations of the
// steps that already completed run in reverse order.
type saga struct {
	logger *zap.Logger
	steps  []sagaStep
}

func newSaga(logger *zap.Logger) *saga {
	return &saga{logger: logger}
}

func (s *saga) then(name string, run, compensate func(ctx context.Context) error) *saga {
	s.steps = append(s.steps, sagaStep{name: name, run: run, compensate: compensate})
	return s
}

func (s *saga) execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.run(ctx); err != nil {
			s.unwind(context.WithoutCancel(ctx), i)
			return &StepError{Step: step.name, Err: err}
		}
	}
	return nil
}

func (s *saga) unwind(ctx context.Context, failed int) {
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx); err != nil {
			s.logger.Error("compensation failed",
				zap.String("step", step.name),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("compensated step", zap.String("step", step.name))
	}
}
