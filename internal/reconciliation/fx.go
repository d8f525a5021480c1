package reconciliation

import (
	"context"

	"github.com/smallbiznis/reconciler/internal/webhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) domain.Service { return s }),
	fx.Provide(NewSweeper),
	fx.Invoke(StartSweeper),
)

func StartSweeper(lc fx.Lifecycle, sweeper *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sweeper.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
