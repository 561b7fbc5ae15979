package coverage

import (
	"github.com/clinidesk/caja/internal/coverage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coverage.service",
	fx.Provide(service.NewService),
)
