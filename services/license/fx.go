package license

import (
	"licensegate/services/billing"

	"go.uber.org/fx"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewService,
		NewHandler,
		func(b *billing.Service) InvoiceEvaluator { return b },
	),
	routeModule,
)
