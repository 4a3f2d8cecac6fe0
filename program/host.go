package program

import (
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// HostImportPath is the import path programs use for nested calls.
const HostImportPath = "kiln/host"

// HostFunc dispatches a nested call and returns its Outcome envelope.
type HostFunc func(method string, args []any, kwargs map[string]any) map[string]any

func hostExports(call HostFunc) interp.Exports {
	return interp.Exports{
		HostImportPath + "/host": {
			"Call": reflect.ValueOf(func(method string, args []any, kwargs map[string]any) map[string]any {
				return call(method, args, kwargs)
			}),
		},
	}
}
