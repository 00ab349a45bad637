package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFilePath returns the path of the environment file for env under base
func EnvFilePath(base, env string) string {
	if env == "" {
		env = DefaultEnv
	}
	return filepath.Join(base, ".env."+env)
}

// LoadEnvFile reads the .env.<env> file under base. A missing file yields
// an empty map and no error.
func LoadEnvFile(base, env string) (map[string]string, error) {
	path := EnvFilePath(base, env)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return vars, nil
}

// WriteEnvFile writes vars as a .env file at path
func WriteEnvFile(path string, vars map[string]string) error {
	if err := godotenv.Write(vars, path); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
