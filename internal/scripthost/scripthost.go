// Package scripthost embeds a JavaScript VM so a workspace's provider
// adapter and tool modules can be edited on disk and picked up on the
// very next round, without restarting the process. Every load gets a
// fresh interpreter; nothing is cached across rounds, which is what
// lets an agent repair or rewrite its own scripts.
package scripthost

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// commonJSWrap lets workspace scripts use CommonJS-style
// `module.exports = {...}` without a bundler; goja has no module system
// of its own.
const commonJSWrap = `(function(module, exports, host) {
%s
return module.exports;
})({exports: {}}, {}, host)`

// evalModule reads and compiles path fresh, runs it in vm, and returns
// its module.exports value. vm must already carry the global "host"
// object (see newRuntime).
func evalModule(vm *goja.Runtime, path string) (goja.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}

	program, err := goja.Compile(path, fmt.Sprintf(commonJSWrap, src), false)
	if err != nil {
		return nil, fmt.Errorf("compile script %s: %w", path, err)
	}

	exports, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("run script %s: %w", path, err)
	}
	return exports, nil
}

func newRuntime(bridge *Bridge) *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	_ = vm.Set("host", bridge)
	return vm
}
