package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBatchDelay is the rolling-strategy pause between instance restarts
	DefaultBatchDelay = 10 * time.Second

	// DefaultRetain is how many releases cleanup keeps
	DefaultRetain = 3

	// DefaultEnv names the .env.<env> file copied into each release
	DefaultEnv = "production"

	stepResolve = "resolve-config"
)

// DefaultTimeouts are applied to any category left unset in config.yml
var DefaultTimeouts = TimeoutsConfig{
	Clone:   5 * time.Minute,
	Install: 15 * time.Minute,
	Hook:    10 * time.Minute,
	Manager: 2 * time.Minute,
	Smoke:   2 * time.Minute,
	Probe:   10 * time.Second,
}

// Resolve merges the in-repository descriptor and the host-local config into
// a DeploymentPlan. It reads the two files and nothing else.
func Resolve(descriptorPath, hostPath string) (*DeploymentPlan, error) {
	desc, err := LoadDescriptor(descriptorPath)
	if err != nil {
		return nil, err
	}

	host, err := LoadHostConfig(hostPath)
	if err != nil {
		return nil, err
	}

	return NewPlan(desc, host)
}

// LoadDescriptor reads and validates deploy.yml
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErr("config file not found: %s", path)
		}
		return nil, configErr("failed to read %s: %v", path, err)
	}
	return ParseDescriptor(data)
}

// ParseDescriptor decodes and validates deploy.yml content
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, configErr("invalid YAML: %v", err)
	}
	if raw == nil {
		return nil, configErr("descriptor is empty")
	}

	for _, field := range []string{"name", "type", "healthCheck"} {
		if v, ok := raw[field]; !ok || v == nil || fmt.Sprint(v) == "" {
			return nil, configErr("missing required field: %s", field)
		}
	}

	var desc Descriptor
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&desc); err != nil {
		return nil, configErr("invalid descriptor: %v", err)
	}

	if err := validateDescriptor(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func validateDescriptor(desc *Descriptor) error {
	if !isValidType(AppType(desc.Type)) {
		return configErr("invalid type: %s. Must be one of %s", desc.Type, joinValues(ValidTypes))
	}

	if desc.Deployment.Strategy == "" {
		desc.Deployment.Strategy = string(StrategySimple)
	}
	if !isValidStrategy(StrategyName(desc.Deployment.Strategy)) {
		return configErr("invalid strategy: %s. Must be one of %s", desc.Deployment.Strategy, joinValues(ValidStrategies))
	}

	if desc.Deployment.BatchDelay != nil && *desc.Deployment.BatchDelay < 0 {
		return configErr("invalid field deployment.batchDelay: must not be negative")
	}

	if !strings.HasPrefix(desc.HealthCheck, "/") {
		desc.HealthCheck = "/" + desc.HealthCheck
	}

	for i, st := range desc.SmokeTests {
		if err := validateSmokeTest(i, &st); err != nil {
			return err
		}
		desc.SmokeTests[i] = st
	}

	return nil
}

func validateSmokeTest(i int, st *SmokeTest) error {
	if st.Endpoint == "" && st.Script == "" {
		return configErr("invalid field smokeTests[%d]: either 'endpoint' or 'script' is required", i)
	}
	if st.Endpoint != "" && st.Script != "" {
		return configErr("invalid field smokeTests[%d]: cannot specify both 'endpoint' and 'script'", i)
	}
	if st.Endpoint != "" {
		if st.Method == "" {
			st.Method = "GET"
		}
		st.Method = strings.ToUpper(st.Method)
		if st.ExpectedStatus == 0 {
			st.ExpectedStatus = 200
		}
		if !strings.HasPrefix(st.Endpoint, "/") {
			st.Endpoint = "/" + st.Endpoint
		}
	}
	return nil
}

// LoadHostConfig reads the host-local config.yml with an isolated viper
// instance, so process environment and global viper state never leak in.
func LoadHostConfig(path string) (*HostConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, configErr("host config not found: %s", path)
		}
		return nil, configErr("failed to stat %s: %v", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("manager", string(ManagerSystemd))
	v.SetDefault("env", DefaultEnv)
	v.SetDefault("instances", 1)
	v.SetDefault("retain", DefaultRetain)
	v.SetDefault("unitDir", "/etc/systemd/system")

	if err := v.ReadInConfig(); err != nil {
		return nil, configErr("invalid YAML in %s: %v", path, err)
	}

	var host HostConfig
	if err := v.Unmarshal(&host); err != nil {
		return nil, configErr("invalid host config %s: %v", path, err)
	}

	if err := validateHost(&host); err != nil {
		return nil, err
	}
	return &host, nil
}

func validateHost(host *HostConfig) error {
	if host.Port <= 0 || host.Port > 65535 {
		return configErr("missing required field: port")
	}
	if !isValidManager(ManagerKind(host.Manager)) {
		return configErr("invalid manager: %s. Must be one of %s", host.Manager, joinValues(ValidManagers))
	}
	if host.Instances < 1 {
		return configErr("invalid field instances: must be at least 1")
	}
	if host.Retain < 1 {
		return configErr("invalid field retain: must be at least 1")
	}
	if host.BluePort == 0 {
		host.BluePort = host.Port
	}
	if host.GreenPort == 0 {
		host.GreenPort = host.BluePort + 1
	}
	if host.BluePort == host.GreenPort {
		return configErr("invalid field greenPort: must differ from bluePort")
	}
	return nil
}

// NewPlan combines a validated descriptor and host config
func NewPlan(desc *Descriptor, host *HostConfig) (*DeploymentPlan, error) {
	if desc == nil || host == nil {
		return nil, configErr("descriptor and host config are required")
	}

	batchDelay := DefaultBatchDelay
	if desc.Deployment.BatchDelay != nil {
		batchDelay = time.Duration(*desc.Deployment.BatchDelay) * time.Second
	}

	plan := &DeploymentPlan{
		Name:         desc.Name,
		Type:         AppType(desc.Type),
		Command:      desc.Command,
		HealthCheck:  desc.HealthCheck,
		Strategy:     StrategyName(desc.Deployment.Strategy),
		KeepInactive: desc.Deployment.KeepInactive,
		BatchDelay:   batchDelay,
		SmokeTests:   append([]SmokeTest(nil), desc.SmokeTests...),
		Hooks: Hooks{
			PreDeploy:  desc.Hooks.PreDeploy,
			PostDeploy: desc.Hooks.PostDeploy,
		},
		Port:          host.Port,
		Manager:       ManagerKind(host.Manager),
		Env:           host.Env,
		Instances:     host.Instances,
		BluePort:      host.BluePort,
		GreenPort:     host.GreenPort,
		UnitDir:       host.UnitDir,
		Retain:        host.Retain,
		Timeouts:      withDefaultTimeouts(host.Timeouts),
		Notifications: host.Notifications,
	}
	return plan, nil
}

func withDefaultTimeouts(t TimeoutsConfig) TimeoutsConfig {
	if t.Clone <= 0 {
		t.Clone = DefaultTimeouts.Clone
	}
	if t.Install <= 0 {
		t.Install = DefaultTimeouts.Install
	}
	if t.Hook <= 0 {
		t.Hook = DefaultTimeouts.Hook
	}
	if t.Manager <= 0 {
		t.Manager = DefaultTimeouts.Manager
	}
	if t.Smoke <= 0 {
		t.Smoke = DefaultTimeouts.Smoke
	}
	if t.Probe <= 0 {
		t.Probe = DefaultTimeouts.Probe
	}
	return t
}

// IsConfigError reports whether err is a ConfigError
func IsConfigError(err error) bool {
	return errors.Is(err, deployerr.ErrConfig)
}

func configErr(format string, args ...interface{}) error {
	return deployerr.Newf(deployerr.KindConfig, stepResolve, format, args...)
}

func isValidType(t AppType) bool {
	for _, v := range ValidTypes {
		if v == t {
			return true
		}
	}
	return false
}

func isValidStrategy(s StrategyName) bool {
	for _, v := range ValidStrategies {
		if v == s {
			return true
		}
	}
	return false
}

func isValidManager(m ManagerKind) bool {
	for _, v := range ValidManagers {
		if v == m {
			return true
		}
	}
	return false
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
