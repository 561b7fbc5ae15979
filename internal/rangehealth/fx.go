package rangehealth

import (
	"github.com/clinidesk/caja/internal/rangehealth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rangehealth.service",
	fx.Provide(service.NewService),
)
