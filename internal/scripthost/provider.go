package scripthost

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/agentloom/agentloom/internal/wstore"
)

// ToolDef is what a provider's chat() sees for each available tool, so
// it can decide whether and how to call it.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatOptions carries the fields a provider needs beyond the message
// list and tool definitions.
type ChatOptions struct {
	Model string `json:"model"`
}

// Provider wraps one loaded scripts/providers/<name>.js module's chat
// function. It lives for one round: Load again on the next round to
// pick up edits.
type Provider struct {
	vm   *goja.Runtime
	chat goja.Callable
}

// LoadProvider loads scripts/providers/<name>.js in a fresh VM and
// returns its chat entry point.
func LoadProvider(bridge *Bridge, name string) (*Provider, error) {
	path := filepath.Join(bridge.WorkspaceDir, "scripts", "providers", name+".js")

	vm := newRuntime(bridge)
	exports, err := evalModule(vm, path)
	if err != nil {
		return nil, err
	}

	obj := exports.ToObject(vm)
	chatVal := obj.Get("chat")
	if chatVal == nil || goja.IsUndefined(chatVal) {
		return nil, fmt.Errorf("provider %q does not export chat()", name)
	}
	chat, ok := goja.AssertFunction(chatVal)
	if !ok {
		return nil, fmt.Errorf("provider %q's chat export is not callable", name)
	}

	return &Provider{vm: vm, chat: chat}, nil
}

// Chat invokes the loaded chat(messages, toolDefs, opts) function and
// marshals its return value back into a ProviderResponse.
func (p *Provider) Chat(messages []wstore.Message, tools []ToolDef, opts ChatOptions) (wstore.ProviderResponse, error) {
	// Messages enter the VM as plain JSON data, so fields of named Go
	// types (Role) arrive as primitive strings a script can compare
	// with ===.
	raw, err := json.Marshal(messages)
	if err != nil {
		return wstore.ProviderResponse{}, fmt.Errorf("encode messages: %w", err)
	}
	var plain []any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return wstore.ProviderResponse{}, fmt.Errorf("encode messages: %w", err)
	}

	result, err := p.chat(goja.Undefined(), p.vm.ToValue(plain), p.vm.ToValue(tools), p.vm.ToValue(opts))
	if err != nil {
		return wstore.ProviderResponse{}, fmt.Errorf("chat: %w", err)
	}

	var resp wstore.ProviderResponse
	if err := p.vm.ExportTo(result, &resp); err != nil {
		return wstore.ProviderResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	return resp, nil
}
