package setting

import (
	"go.uber.org/fx"
)

var Module = fx.Module("setting.module",
	fx.Provide(
		NewService,
		func(s *Service) Provider { return s },
	),
)
