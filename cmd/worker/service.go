package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

// runner is a long-lived consumer loop.
type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Consumers    map[string]runner
}

// Service checks its dependencies and then runs every consumer until one fails or ctx ends.
type Service struct {
	logg      *logger.Logger
	deps      []dependency
	consumers map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for name, consumer := range params.Consumers {
		if consumer == nil {
			return nil, fmt.Errorf("consumer %s is nil", name)
		}
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, consumers: params.Consumers}, nil
}

// ensureReadiness pings every dependency and reports all failures together.
func (s *Service) ensureReadiness(ctx context.Context) error {
	var errs error
	for _, dep := range s.deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", dep.name, err))
		}
	}
	if errs != nil {
		return errs
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for name, consumer := range s.consumers {
		group.Go(func() error {
			consumerCtx := s.logg.WithField(groupCtx, "consumer", name)
			s.logg.Info(consumerCtx, "consumer starting")
			err := consumer.Run(consumerCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return err
		})
	}
	return group.Wait()
}
