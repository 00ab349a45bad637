package runtime

import (
	"fmt"

	"github.com/redentordev/paradigm/pkg/config"
)

// Detect guesses the application type of the project in dir. Used by
// `paradigm init` to prefill deploy.yml.
func Detect(dir string) (config.AppType, error) {
	if fileExists(dir, "Dockerfile") || fileExists(dir, "dockerfile") {
		return config.TypeDocker, nil
	}
	if fileExists(dir, "package.json") {
		return config.TypeNode, nil
	}
	if fileExists(dir, "requirements.txt") || fileExists(dir, "Pipfile") || fileExists(dir, "pyproject.toml") || fileExists(dir, "main.py") {
		return config.TypePython, nil
	}
	if fileExists(dir, "index.html") {
		return config.TypeStatic, nil
	}

	return "", fmt.Errorf("could not detect application type - no recognized project files found")
}
