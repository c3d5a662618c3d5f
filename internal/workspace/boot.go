package workspace

import (
	"fmt"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/wstore"
)

// Pusher is the narrow queue interface InjectBoot needs.
type Pusher interface {
	Push(content, source string, metadata map[string]any) string
}

// InjectBoot pushes the startup message a fresh or restarted process
// needs to see: a system:boot instruction for a root agent, or a
// system:restart notice (carrying the last crash, if any) for a
// worker resuming with non-empty context. A worker with empty context
// starts clean and gets nothing.
func InjectBoot(q Pusher, workspaceDir, role string) error {
	if role == config.RoleRoot {
		q.Push("You have just booted as the root agent. Spawn a worker to handle user tasks.", "system:boot", nil)
		return nil
	}

	messages, err := wstore.LoadContext(workspaceDir)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	content := "The process restarted with existing context. Resume where you left off."
	if crash, err := wstore.LastCrash(workspaceDir); err == nil && crash != nil {
		content += fmt.Sprintf(" Last crash: [%s] %s", crash.Source, crash.Message)
	}
	q.Push(content, "system:restart", nil)
	return nil
}
