package storage

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/ipfs-orchestrator/config"
)

// RetryPolicy bounds the retries of mirror calls.
// A zero InitialInterval retries immediately, which tests rely on.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Retryable decides whether an error is transient. Nil retries every error.
	Retryable func(error) bool
}

// NewRetryPolicy builds the mirror policy from configuration.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2,
		Retryable:       IsRetryableS3Error,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, the context
// ends or MaxAttempts is reached. It returns how many attempts were made.
// notify is called before every retry and may be nil.
func (p *RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, next time.Duration, attempt int)) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, next time.Duration) {
		if notify != nil {
			notify(err, next, attempts)
		}
	})
	return attempts, err
}

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(multiplier),
		backoff.WithMaxElapsedTime(0),
	)

	var retries uint64
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// IsRetryableS3Error separates transient S3 failures (connection errors,
// timeouts, throttling, 5xx) from parameter and validation errors.
func IsRetryableS3Error(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isValidationError(err) {
		return false
	}

	var reqFailure awserr.RequestFailure
	if errors.As(err, &reqFailure) && reqFailure.StatusCode() >= 500 {
		return true
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case request.ErrCodeRequestError, request.ErrCodeResponseTimeout, request.ErrCodeRead, request.ErrCodeSerialization:
			return true
		}
		return request.IsErrorRetryable(err) || request.IsErrorThrottle(err)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isValidationError(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case request.InvalidParameterErrCode,
		request.ParamRequiredErrCode,
		request.ParamMinValueErrCode,
		request.ParamMinLenErrCode,
		request.ParamMaxLenErrCode,
		request.ParamFormatErrCode:
		return true
	}
	return false
}
