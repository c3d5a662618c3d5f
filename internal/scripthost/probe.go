package scripthost

import "fmt"

// Probe loads the active provider and every tool module and returns the
// first failure, without keeping either around. The repair-signal path
// calls this to confirm a workspace's scripts are valid again before
// clearing the error state.
func Probe(bridge *Bridge, providerName string) error {
	if _, err := LoadProvider(bridge, providerName); err != nil {
		return fmt.Errorf("provider probe failed: %w", err)
	}
	if _, err := LoadTools(bridge); err != nil {
		return fmt.Errorf("tool probe failed: %w", err)
	}
	return nil
}
