package modules

import (
	"github.com/sowflow/sowflow/modules/sow"
	"github.com/sowflow/sowflow/pkg/application"
)

// BuiltInModules returns the modules the server loads by default.
func BuiltInModules(opts *sow.ModuleOptions) []application.Module {
	return []application.Module{
		sow.NewModule(opts),
	}
}

func Load(app application.Application, externalModules ...application.Module) error {
	return application.LoadModules(app, externalModules...)
}
