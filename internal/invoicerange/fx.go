package invoicerange

import (
	"github.com/clinidesk/caja/internal/invoicerange/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicerange.service",
	fx.Provide(service.NewService),
)
