package scripthost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Tool wraps one loaded scripts/tools/<name>.js module. A goja.Runtime is
// not safe for concurrent use, so Execute serializes calls with mu: two
// parallel invocations of the same tool (e.g. two concurrent bash calls
// in one turn) run one after another rather than racing inside the VM.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	mu      sync.Mutex
	vm      *goja.Runtime
	execute goja.Callable
}

// ToolResult is what a tool's execute() returns: a result string plus an
// optional action, "wait" being the only one the executor currently
// recognizes.
type ToolResult struct {
	Result string `json:"result"`
	Action string `json:"action,omitempty"`
}

// Execute invokes the loaded execute(args) function.
func (t *Tool) Execute(args map[string]any) (ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.execute(goja.Undefined(), t.vm.ToValue(args))
	if err != nil {
		return ToolResult{}, err
	}
	var out ToolResult
	if err := t.vm.ExportTo(result, &out); err != nil {
		return ToolResult{}, fmt.Errorf("decode tool result: %w", err)
	}
	return out, nil
}

// Def returns the tool's definition for inclusion in a provider's tool list.
func (t *Tool) Def() ToolDef {
	return ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// LoadTools loads every scripts/tools/*.js module in the workspace,
// each in its own fresh VM (so one tool's globals never leak into
// another's).
func LoadTools(bridge *Bridge) ([]*Tool, error) {
	dir := filepath.Join(bridge.WorkspaceDir, "scripts", "tools")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tools dir: %w", err)
	}

	var tools []*Tool
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		tool, err := loadTool(bridge, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("load tool %s: %w", e.Name(), err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func loadTool(bridge *Bridge, path string) (*Tool, error) {
	vm := newRuntime(bridge)
	exports, err := evalModule(vm, path)
	if err != nil {
		return nil, err
	}

	obj := exports.ToObject(vm)
	name, _ := obj.Get("name").Export().(string)
	description, _ := obj.Get("description").Export().(string)
	params, _ := obj.Get("parameters").Export().(map[string]any)

	if name == "" {
		return nil, fmt.Errorf("missing name export")
	}

	execVal := obj.Get("execute")
	if execVal == nil || goja.IsUndefined(execVal) {
		return nil, fmt.Errorf("tool %q does not export execute()", name)
	}
	execute, ok := goja.AssertFunction(execVal)
	if !ok {
		return nil, fmt.Errorf("tool %q's execute export is not callable", name)
	}

	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		vm:          vm,
		execute:     execute,
	}, nil
}
