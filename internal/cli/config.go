// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boringdata/kurt-core/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold kurt configuration",
	}
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report which project/user config files the resolver will read",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := config.GetResolver()
			for _, line := range r.Diagnose() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

// providerDescriptorTemplate is the scaffold written by "config init",
// matching the Descriptor shape pkg/provider.loadDescriptor reads back.
type providerDescriptorTemplate struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	URLPatterns []string `yaml:"url_patterns"`
	RequiresEnv []string `yaml:"requires_env"`
}

func newConfigInitCommand() *cobra.Command {
	var tool string

	cmd := &cobra.Command{
		Use:   "init <provider-name>",
		Short: "Scaffold a user-scope provider.yaml descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve home directory: %w", err)
			}
			dir := filepath.Join(home, ".kurt", "tools", tool, "providers", name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create provider directory: %w", err)
			}

			desc := providerDescriptorTemplate{
				Name:        name,
				Version:     "0.1.0",
				URLPatterns: []string{"*"},
			}
			data, err := yaml.Marshal(desc)
			if err != nil {
				return fmt.Errorf("marshal provider descriptor: %w", err)
			}

			path := filepath.Join(dir, "provider.yaml")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write provider descriptor: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "fetch", "tool this provider plugs into")
	return cmd
}
