package config

import (
	"fmt"
	"strings"
)

// DescriptorFileName is the in-repository descriptor looked up at each commit
const DescriptorFileName = "deploy.yml"

// HostConfigFileName is the host-local config under the deployment base
const HostConfigFileName = "config.yml"

// DefaultDescriptorTemplate is written by `paradigm init`
const DefaultDescriptorTemplate = `# Deployment descriptor
name: my-app
type: python          # python | node | docker | static
healthCheck: /health
# command: python -m uvicorn main:app --host 0.0.0.0 --port $PORT

deployment:
  strategy: simple    # simple | blue-green | rolling
  # keepInactive: false   # blue-green: keep the old slot running
  # batchDelay: 10        # rolling: seconds between instance restarts

# hooks:
#   preDeploy: ./scripts/migrate.sh
#   postDeploy: ./scripts/notify.sh

# smokeTests:              # blue-green only
#   - endpoint: /api/status
#     expectedStatus: 200
#     expectedBody: ok
#   - script: smoke.sh
`

// DescriptorTemplate renders DefaultDescriptorTemplate for an application
func DescriptorTemplate(name string, appType AppType) string {
	s := DefaultDescriptorTemplate
	if name != "" {
		s = strings.Replace(s, "name: my-app", "name: "+name, 1)
	}
	if appType != "" {
		s = strings.Replace(s, "type: python", "type: "+string(appType), 1)
	}
	return s
}

// HostConfigTemplate renders a config.yml for `paradigm setup`
func HostConfigTemplate(app string, port int, manager ManagerKind, env string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Host configuration for %s\n", app)
	fmt.Fprintf(&b, "port: %d\n", port)
	fmt.Fprintf(&b, "manager: %s\n", manager)
	fmt.Fprintf(&b, "env: %s\n", env)
	b.WriteString(`
# instances: 2          # pm2 instance count
# retain: 3             # releases kept by cleanup
# timeouts:
#   install: 15m
#   hook: 10m
# notifications:
#   slack: https://hooks.slack.com/services/...
`)
	return b.String()
}
