package loan

import (
	"github.com/smallbiznis/reconciler/internal/loan/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("loan",
	fx.Provide(repository.Provide),
)
