package contentsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/logfields"
	"github.com/simplesurance/contentsync/internal/syncerr"
)

const (
	defBackoffInitialInterval     = 5 * time.Second
	defBackoffRandomizationFactor = backoff.DefaultRandomizationFactor
)

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	// maxRetryTimeout is the duration after that no retry is
	// attempted anymore. If it is <=0, functions are only run once.
	maxRetryTimeout            time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

func NewRetryer(maxRetryTimeout time.Duration) *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		shutdownChan:               make(chan struct{}),
		maxRetryTimeout:            maxRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
	}
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	// retrying is bounded by maxRetryTimeout
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that
// does not wrap syncerr.RetryableError, the retry timeout expired or the
// execution was aborted via the context.
// When the retry timeout expires, the last error returned by fn is returned.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	logger := r.logger.With(logF...)

	if r.maxRetryTimeout <= 0 {
		return fn(ctx)
	}

	var tryCnt uint
	var lastErr error

	parentCtx := ctx
	ctx, cancelFn := context.WithTimeout(ctx, r.maxRetryTimeout)
	defer cancelFn()

	endTime := time.Now().Add(r.maxRetryTimeout)

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := r.newBackoff()

	for {
		select {
		case <-ctx.Done():
			if parentCtx.Err() != nil || lastErr == nil {
				logger.Info(
					"operation cancelled",
					logfields.Event("operation_cancelled"),
					zap.Uint("try_count", tryCnt),
				)

				return ctx.Err()
			}

			logger.Warn(
				"giving up retrying operation, retry timeout expired",
				logfields.Event("operation_retry_timeout"),
				zap.Uint("try_count", tryCnt),
				zap.Duration("retry_timeout", r.maxRetryTimeout),
				zap.Error(lastErr),
			)

			return fmt.Errorf("retry timeout (%s) expired: %w", r.maxRetryTimeout, lastErr)

		case <-r.shutdownChan:
			logger.Info(
				"retryer terminating, operation not executed",
				logfields.Event("operation_cancelled_retryer_terminated"),
			)

			if lastErr != nil {
				return lastErr
			}

			return errors.New("retryer was stopped")

		case <-retryTimer.C:
			tryCnt++
			logger := logger.With(zap.Uint("try_count", tryCnt))

			logger.Debug(
				"running operation",
				logfields.Event("operation_running"),
				zap.Duration("age", bo.GetElapsedTime()),
				zap.Duration("retry_timeout", r.maxRetryTimeout),
			)

			err := fn(ctx)
			if err == nil {
				return nil
			}

			var retryError *syncerr.RetryableError
			if !errors.As(err, &retryError) {
				return err
			}

			logger = logger.With(zap.Error(err))

			if retryError.After.After(endTime) {
				logger.Info(
					"operation failed, next possible retry time is after timeout expiration",
					logfields.Event("operation_failed"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			retryIn := time.Until(retryError.After)
			if retryError.After.IsZero() || retryIn <= 0 {
				retryIn = bo.NextBackOff()
			}

			lastErr = err
			retryTimer.Reset(retryIn)

			logger.Info(
				"operation failed, retry scheduled",
				logfields.Event("operation_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
