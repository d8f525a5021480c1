package webhook

import (
	"github.com/smallbiznis/reconciler/internal/webhook/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
)
