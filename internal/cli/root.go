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

// Package cli wires the kurt command-line surface onto the orchestrator,
// provider registry, and config resolver: it selects a target pipeline,
// turns flags into inputs, calls the workflow API, and reads back the
// live-status record.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version metadata, wired from main via
// -ldflags.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// GetVersion returns the recorded version string.
func GetVersion() string {
	if commit != "" && commit != "unknown" {
		return fmt.Sprintf("%s (%s)", version, commit)
	}
	return version
}

// Flags bundles the root command's persistent flag values, read by
// subcommands via the values captured at registration time.
type Flags struct {
	DBPath string
	JSON   bool
	Quiet  bool
}

// NewRootCommand builds the root "kurt" Cobra command and registers every
// subcommand of the external CLI surface.
func NewRootCommand() *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:     "kurt",
		Short:   "Run and inspect kurt pipelines",
		Version: GetVersion(),
		Long: `kurt runs registered model pipelines against a relational store,
resolving layered configuration, discovering tool providers, and
recording durable, resumable step-by-step progress.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.DBPath, "db", "kurt.db", "path to the kurt SQLite database")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "emit machine-readable JSON output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress non-essential log output")

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newStatusCommand(flags))
	cmd.AddCommand(newProvidersCommand(flags))
	cmd.AddCommand(newConfigCommand(flags))

	return cmd
}

// HandleExitError maps a command error to a process exit code, keeping
// that classification at the CLI boundary rather than inside library code.
func HandleExitError(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
