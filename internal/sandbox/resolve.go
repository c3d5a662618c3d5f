package sandbox

import "strings"

// Resolve builds the Backend named by an agent.json "sandbox" value:
// "" or "host" for the default process backend, "docker:<image>" for the
// container backend.
func Resolve(sandbox string) (Backend, error) {
	if sandbox == "" || sandbox == "host" {
		return NewHostBackend(), nil
	}
	if image, ok := strings.CutPrefix(sandbox, "docker:"); ok && image != "" {
		return NewDockerBackend(image)
	}
	return NewHostBackend(), nil
}
