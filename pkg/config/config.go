// Package config defines the declarative configuration for backend MCP
// servers and the visibility filter applied to their tools.
//
// Server configurations are immutable declarations: they are created by
// loading a configuration file, replaced wholesale on reload, and never
// mutated in place.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/errors"
)

// TransportType represents the wire protocol a backend speaks.
type TransportType string

const (
	// TransportTypeStdio represents the pipe-based request/response transport.
	TransportTypeStdio TransportType = "stdio"

	// TransportTypeHTTP represents the plain HTTP request/response transport.
	TransportTypeHTTP TransportType = "http"

	// TransportTypeSSE represents the server-sent-event streaming transport.
	TransportTypeSSE TransportType = "sse"
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	return string(t)
}

// ParseTransportType parses a string into a transport type.
// "pipe" is accepted as an alias for the stdio transport.
func ParseTransportType(s string) (TransportType, error) {
	switch strings.ToLower(s) {
	case "stdio", "pipe":
		return TransportTypeStdio, nil
	case "http":
		return TransportTypeHTTP, nil
	case "sse":
		return TransportTypeSSE, nil
	default:
		return "", fmt.Errorf("unsupported transport type: %s", s)
	}
}

// NetworkSpec describes the network exposure of an http/sse backend.
// It is ignored for stdio backends.
type NetworkSpec struct {
	// Host is the host the backend listens on. Defaults to localhost.
	Host string `yaml:"host,omitempty"`

	// Port is the host port the backend is reachable on.
	Port int `yaml:"port,omitempty"`

	// TargetPort is the port exposed inside the container, when different
	// from Port.
	TargetPort int `yaml:"target_port,omitempty"`

	// Volumes is the list of volume mounts in "source:target" form.
	Volumes []string `yaml:"volumes,omitempty"`
}

// HealthCheck describes how to probe an http/sse backend for readiness.
type HealthCheck struct {
	// URL is the full health check URL.
	URL string `yaml:"url"`

	// Timeout bounds the whole readiness wait.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// UnmarshalYAML decodes the timeout from "10s" style duration strings.
func (h *HealthCheck) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	h.URL = raw.URL
	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid health check timeout: %w", err)
		}
		h.Timeout = timeout
	}
	return nil
}

// ServerConfig is the immutable declaration of one backend server.
type ServerConfig struct {
	// Name is the unique key for the server.
	Name string `yaml:"name"`

	// Image is the container image to run. Mutually exclusive with Command.
	Image string `yaml:"image,omitempty"`

	// Command is the local executable to launch. Mutually exclusive with Image.
	Command string `yaml:"command,omitempty"`

	// Args are the arguments passed to the image entrypoint or command.
	Args []string `yaml:"args,omitempty"`

	// Transport is the wire protocol the backend speaks.
	Transport TransportType `yaml:"transport"`

	// RequiredEnv lists environment variable names that must be resolvable
	// to non-empty values before a start is attempted.
	RequiredEnv []string `yaml:"required_env,omitempty"`

	// Env maps variable names to values passed to the backend. Values may
	// be "${VAR}" placeholders resolved against the hub's environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Network is only meaningful for http/sse transports.
	Network *NetworkSpec `yaml:"network,omitempty"`

	// HealthCheck is optional and only meaningful for http/sse transports.
	HealthCheck *HealthCheck `yaml:"health_check,omitempty"`
}

// Validate checks the configuration for structural problems.
// Returns a ConfigError describing the first problem found.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.NewConfigError("server name must not be empty", nil)
	}
	if _, err := ParseTransportType(string(c.Transport)); err != nil {
		return errors.NewConfigError(fmt.Sprintf("server %s: %v", c.Name, err), nil)
	}
	if c.Image == "" && c.Command == "" {
		return errors.NewConfigError(
			fmt.Sprintf("server %s: either image or command must be set", c.Name), nil)
	}
	if c.Image != "" && c.Command != "" {
		return errors.NewConfigError(
			fmt.Sprintf("server %s: image and command are mutually exclusive", c.Name), nil)
	}
	if c.Transport != TransportTypeStdio {
		if c.Network == nil || c.Network.Port == 0 {
			return errors.NewConfigError(
				fmt.Sprintf("server %s: %s transport requires network.port", c.Name, c.Transport), nil)
		}
	}
	return nil
}

// BaseURL returns the base URL of an http/sse backend, or "" for stdio.
func (c *ServerConfig) BaseURL() string {
	if c.Transport == TransportTypeStdio || c.Network == nil {
		return ""
	}
	host := c.Network.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Network.Port)
}

// ResolvedEnv expands "${VAR}" placeholders in the configured env values
// against the supplied environment reader. Literal values pass through
// unchanged. Placeholders that resolve to "" are returned as empty so the
// availability check can flag them.
func (c *ServerConfig) ResolvedEnv(reader env.Reader) map[string]string {
	resolved := make(map[string]string, len(c.Env))
	for key, value := range c.Env {
		resolved[key] = expandPlaceholder(value, reader)
	}
	return resolved
}

func expandPlaceholder(value string, reader env.Reader) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return reader.Getenv(value[2 : len(value)-1])
	}
	return value
}
