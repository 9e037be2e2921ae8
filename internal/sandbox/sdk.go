package sandbox

import (
	"go/constant"
	"reflect"

	"github.com/traefik/yaegi/interp"

	"dyncmd/internal/capability"
	"dyncmd/internal/command"
)

// SDKPath is the import path scripts use for host helpers.
const SDKPath = "dyncmd/sdk"

// sdkKey is the yaegi symbol table key for SDKPath ("<path>/<name>").
const sdkKey = SDKPath + "/sdk"

// sdkSymbols is what every script can reach through SDKPath.
func sdkSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Proxy":             reflect.ValueOf((*capability.Proxy)(nil)),
		"ImproperUsage":     reflect.ValueOf(command.ImproperUsage),
		"PrefixPlaceholder": reflect.ValueOf(constant.MakeString(command.PrefixPlaceholder)),
	}
}

// hostSymbols adds the raw host types for unrestricted scripts, which
// receive injected values without proxying.
func hostSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Command": reflect.ValueOf((*command.Command)(nil)),
		"Context": reflect.ValueOf((*command.Context)(nil)),
		"Source":  reflect.ValueOf((*command.Source)(nil)),
	}
}

func sdkExports(unrestricted bool, extra map[string]reflect.Value) interp.Exports {
	syms := sdkSymbols()
	if unrestricted {
		for k, v := range hostSymbols() {
			syms[k] = v
		}
		for k, v := range extra {
			syms[k] = v
		}
	}
	return interp.Exports{sdkKey: syms}
}
