// Package app defines the mcphub command tree.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/config"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/env"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/hub"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/lifecycle"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/logger"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/registry"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime/docker"
	"github.com/pranjal-pravesh/mcp-docker-hub/pkg/runtime/local"
)

const shutdownTimeout = 30 * time.Second

// NewRootCmd builds the mcphub command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcphub",
		Short: "Aggregate MCP tool servers behind one hub",
		Long: `mcphub starts, supervises, and aggregates a set of MCP tool servers
running as containers or local processes, exposing their tools through a
single routing surface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	var configPath, visibilityPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every configured server and keep them supervised",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHub(cmd.Context(), configPath, visibilityPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "servers.yaml", "Path to the server configuration file")
	cmd.Flags().StringVar(&visibilityPath, "visibility", "", "Path to the tool visibility file (optional)")
	return cmd
}

func runHub(ctx context.Context, configPath, visibilityPath string) error {
	servers, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	controller, err := buildController(servers)
	if err != nil {
		return err
	}

	opts := hub.Options{Controller: controller}
	if visibilityPath != "" {
		opts.VisibilityStore = config.NewFileVisibilityStore(visibilityPath)
	}
	h, err := hub.New(opts)
	if err != nil {
		return err
	}
	if err := h.Reload(servers); err != nil {
		return err
	}

	results := h.StartAll(ctx)
	for _, name := range sortedKeys(results) {
		if startErr := results[name]; startErr != nil {
			logger.Errorf("Failed to start %s: %v", name, startErr)
		}
	}
	for _, status := range h.ListServers() {
		logger.Infof("Server %s: state=%s transport=%s tools=%d",
			status.Name, status.State, status.Transport, status.ToolCount)
	}
	logger.Infof("Hub is running with %d tools; press Ctrl+C to stop", len(h.ListTools()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Infof("Shutting down")
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.Close(stopCtx)
	return nil
}

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check which configured servers have their required environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}

			reg := registry.NewRegistry(&env.OSReader{})
			for _, cfg := range servers {
				if err := reg.Register(cfg); err != nil {
					return err
				}
			}

			availability := reg.CheckAvailability()
			for _, name := range sortedKeys(availability) {
				result := availability[name]
				if result.Available {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: available\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: missing %v\n", name, result.MissingEnv)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "servers.yaml", "Path to the server configuration file")
	return cmd
}

func newListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			for _, cfg := range servers {
				target := cfg.Image
				if target == "" {
					target = cfg.Command
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", cfg.Name, cfg.Transport, target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "servers.yaml", "Path to the server configuration file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcphub version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcphub %s\n", version)
		},
	}
}

// buildController assembles the lifecycle controller. The Docker client is
// only required when at least one server runs from an image.
func buildController(servers []*config.ServerConfig) (lifecycle.Controller, error) {
	var containers runtime.Deployer
	dockerClient, err := docker.NewClient()
	if err != nil {
		if anyImageBacked(servers) {
			return nil, fmt.Errorf("docker is required by the configuration: %w", err)
		}
		logger.Warnf("Docker unavailable, running with local processes only: %v", err)
	} else {
		containers = dockerClient
	}
	return lifecycle.NewController(containers, local.NewDeployer()), nil
}

func anyImageBacked(servers []*config.ServerConfig) bool {
	for _, cfg := range servers {
		if cfg.Image != "" {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
