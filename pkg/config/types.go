package config

import (
	"time"
)

// AppType is the application runtime declared in deploy.yml
type AppType string

const (
	TypePython AppType = "python"
	TypeNode   AppType = "node"
	TypeDocker AppType = "docker"
	TypeStatic AppType = "static"
)

// StrategyName selects the deployment algorithm
type StrategyName string

const (
	StrategySimple    StrategyName = "simple"
	StrategyBlueGreen StrategyName = "blue-green"
	StrategyRolling   StrategyName = "rolling"
)

// ManagerKind selects the process manager on the host
type ManagerKind string

const (
	ManagerSystemd ManagerKind = "systemd"
	ManagerPM2     ManagerKind = "pm2"
)

// ValidTypes lists accepted application types in display order
var ValidTypes = []AppType{TypePython, TypeNode, TypeDocker, TypeStatic}

// ValidStrategies lists accepted strategies in display order
var ValidStrategies = []StrategyName{StrategySimple, StrategyBlueGreen, StrategyRolling}

// ValidManagers lists accepted process managers in display order
var ValidManagers = []ManagerKind{ManagerSystemd, ManagerPM2}

// Descriptor is the in-repository deploy.yml
type Descriptor struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Command     string            `yaml:"command,omitempty"` // Optional start command override
	HealthCheck string            `yaml:"healthCheck"`
	Deployment  DeploymentSection `yaml:"deployment,omitempty"`
	Hooks       HooksConfig       `yaml:"hooks,omitempty"`
	SmokeTests  []SmokeTest       `yaml:"smokeTests,omitempty"`
}

// DeploymentSection holds strategy selection and strategy-specific parameters
type DeploymentSection struct {
	Strategy     string `yaml:"strategy,omitempty"`     // simple (default), blue-green, rolling
	KeepInactive bool   `yaml:"keepInactive,omitempty"` // blue-green: leave the old slot running
	BatchDelay   *int   `yaml:"batchDelay,omitempty"`   // rolling: seconds between instances (default 10)
}

// HooksConfig defines lifecycle hook commands
type HooksConfig struct {
	PreDeploy  string `yaml:"preDeploy,omitempty"`
	PostDeploy string `yaml:"postDeploy,omitempty"`
}

// SmokeTest is one pre-switch functional check. Exactly one of Endpoint or
// Script is set.
type SmokeTest struct {
	Name           string `yaml:"name,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	Method         string `yaml:"method,omitempty"`         // default GET
	ExpectedStatus int    `yaml:"expectedStatus,omitempty"` // default 200
	ExpectedBody   string `yaml:"expectedBody,omitempty"`   // optional substring
	Script         string `yaml:"script,omitempty"`         // resolved relative to the deployment base
}

// Label identifies the check in transcripts and errors
func (s SmokeTest) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Endpoint != "":
		return s.Endpoint
	default:
		return s.Script
	}
}

// HostConfig is the host-local config.yml under the deployment base
type HostConfig struct {
	Port          int                 `mapstructure:"port"`
	Manager       string              `mapstructure:"manager"`
	Env           string              `mapstructure:"env"`
	Instances     int                 `mapstructure:"instances"` // pm2 instance count
	BluePort      int                 `mapstructure:"bluePort"`
	GreenPort     int                 `mapstructure:"greenPort"`
	UnitDir       string              `mapstructure:"unitDir"` // where blue/green systemd units are written
	Retain        int                 `mapstructure:"retain"`
	Timeouts      TimeoutsConfig      `mapstructure:"timeouts"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// TimeoutsConfig bounds every external command by category
type TimeoutsConfig struct {
	Clone   time.Duration `mapstructure:"clone"`
	Install time.Duration `mapstructure:"install"`
	Hook    time.Duration `mapstructure:"hook"`
	Manager time.Duration `mapstructure:"manager"`
	Smoke   time.Duration `mapstructure:"smoke"`
	Probe   time.Duration `mapstructure:"probe"` // per HTTP attempt
}

// NotificationsConfig defines notification settings
type NotificationsConfig struct {
	Slack   string `mapstructure:"slack"`   // Slack webhook URL
	Discord string `mapstructure:"discord"` // Discord webhook URL
	Webhook string `mapstructure:"webhook"` // Generic webhook URL
}

// Enabled reports whether any channel is configured
func (n NotificationsConfig) Enabled() bool {
	return n.Slack != "" || n.Discord != "" || n.Webhook != ""
}

// Hooks are the resolved lifecycle hook commands
type Hooks struct {
	PreDeploy  string
	PostDeploy string
}

// DeploymentPlan is the resolved configuration for one deployment attempt.
// It is built once by Resolve and never mutated afterwards.
type DeploymentPlan struct {
	Name        string
	Type        AppType
	Command     string // empty means the runtime default
	HealthCheck string

	Strategy     StrategyName
	KeepInactive bool
	BatchDelay   time.Duration
	SmokeTests   []SmokeTest

	Hooks Hooks

	Port      int
	Manager   ManagerKind
	Env       string
	Instances int
	BluePort  int
	GreenPort int
	UnitDir   string
	Retain    int

	Timeouts      TimeoutsConfig
	Notifications NotificationsConfig

	SourceRef string
}

// WithSourceRef returns a copy of the plan bound to a commit reference
func (p DeploymentPlan) WithSourceRef(ref string) *DeploymentPlan {
	p.SourceRef = ref
	p.SmokeTests = append([]SmokeTest(nil), p.SmokeTests...)
	return &p
}

// ServiceName is the process-manager service name for the application
func (p *DeploymentPlan) ServiceName() string {
	return p.Name
}

// SlotPort returns the dedicated port of a blue/green slot
func (p *DeploymentPlan) SlotPort(slot string) int {
	if slot == "green" {
		return p.GreenPort
	}
	return p.BluePort
}
