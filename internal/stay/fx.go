package stay

import (
	"github.com/clinidesk/caja/internal/stay/service"
	"go.uber.org/fx"
)

var Module = fx.Module("stay.service",
	fx.Provide(service.NewService),
)
