package bootstrap

import (
	"go.uber.org/fx"
)

var Module = fx.Module("bootstrap.module",
	fx.Invoke(Migrate),
)
