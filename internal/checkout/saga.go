package checkout

import (
	"context"

	"github.com/rs/zerolog"
)

// Step is one unit of a checkout saga. Compensate undoes a step that
// completed when a later step fails.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// runSaga executes steps in order. On the first failure it compensates the
// completed steps in reverse and returns the failing step's error.
// Compensation runs on a context that survives cancellation of ctx.
func runSaga(ctx context.Context, log zerolog.Logger, steps ...Step) error {
	done := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := step.Execute(ctx); err != nil {
			log.Warn().Err(err).Str("step", step.Name()).Msg("checkout step failed, rolling back")
			rollback(context.WithoutCancel(ctx), log, done)
			return err
		}
		log.Debug().Str("step", step.Name()).Msg("checkout step done")
		done = append(done, step)
	}
	return nil
}

func rollback(ctx context.Context, log zerolog.Logger, done []Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if err := step.Compensate(ctx); err != nil {
			log.Error().Err(err).Str("step", step.Name()).Msg("compensation failed")
		}
	}
}
