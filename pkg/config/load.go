package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

// File is the top-level structure of a server configuration file.
type File struct {
	Servers []*ServerConfig `yaml:"servers"`
}

// LoadFile reads and validates a YAML server configuration file.
// Duplicate server names and malformed entries are rejected with a
// ConfigError; nothing is partially loaded.
func LoadFile(path string) ([]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("reading %s", path), err)
	}
	return Parse(data)
}

// Parse parses and validates YAML server configuration data.
func Parse(data []byte) ([]*ServerConfig, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewConfigError("parsing server configuration", err)
	}

	seen := make(map[string]struct{}, len(file.Servers))
	for _, server := range file.Servers {
		if err := server.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[server.Name]; dup {
			return nil, errors.NewConfigError(
				fmt.Sprintf("duplicate server name: %s", server.Name), nil)
		}
		seen[server.Name] = struct{}{}
	}

	return file.Servers, nil
}
