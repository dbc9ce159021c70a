package usecase

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

// LoaderInvoker routes dispatches for the loader's own handler to the
// in-process LoaderService and delegates everything else to the backend
// invoker. The loader is scheduled like any other job, so its failures
// flow through the same retry and dead-letter path.
type LoaderInvoker struct {
	loader   *LoaderService
	handler  job.HandlerRef
	fallback HandlerInvoker
}

func NewLoaderInvoker(loader *LoaderService, handler job.HandlerRef, fallback HandlerInvoker) (*LoaderInvoker, error) {
	if loader == nil {
		return nil, errors.Wrap(ErrInvalidInput, "loader is required")
	}
	if handler == "" {
		return nil, errors.Wrap(ErrInvalidInput, "loader handler ref is required")
	}
	if fallback == nil {
		return nil, errors.Wrap(ErrInvalidInput, "fallback invoker is required")
	}

	return &LoaderInvoker{loader: loader, handler: handler, fallback: fallback}, nil
}

func (i *LoaderInvoker) Invoke(ctx context.Context, ref job.HandlerRef, payload job.Payload) (InvocationResult, error) {
	if ref != i.handler {
		return i.fallback.Invoke(ctx, ref, payload)
	}

	if _, err := i.loader.Load(ctx); err != nil {
		return InvocationResult{Success: false}, err
	}

	return InvocationResult{Success: true}, nil
}
