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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boringdata/kurt-core/internal/kurtlog"
	"github.com/boringdata/kurt-core/internal/store"
	_ "github.com/boringdata/kurt-core/pkg/models"
	"github.com/boringdata/kurt-core/pkg/orchestrator"
	"github.com/boringdata/kurt-core/pkg/pipelines"
	"github.com/boringdata/kurt-core/pkg/registry"
	"github.com/spf13/cobra"
)

func newRunCommand(flags *Flags) *cobra.Command {
	var inputFlags []string
	var noCache bool

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Run a registered pipeline to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			inputs, err := parseInputFlags(inputFlags)
			if err != nil {
				return err
			}

			logger := kurtlog.New(kurtlog.FromEnv())
			if flags.Quiet {
				logger = kurtlog.New(&kurtlog.Config{Level: "error", Format: kurtlog.FormatJSON})
			}

			s, err := store.Open(store.Config{Path: flags.DBPath, WAL: true})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			o := &orchestrator.Orchestrator{
				DB:        s.DB(),
				Models:    registry.Global(),
				Pipelines: pipelines.DefaultRegistry(),
				Logger:    logger,
			}

			result, err := o.RunWorkflow(cmd.Context(), target, inputs, noCache)
			if err != nil {
				return fmt.Errorf("run workflow: %w", err)
			}

			return printRunResult(cmd, flags, result)
		},
	}

	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "pipeline input as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the batch executor's cache for this run")

	return cmd
}

func parseInputFlags(raw []string) (map[string]any, error) {
	inputs := map[string]any{}
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", kv)
		}
		inputs[parts[0]] = parts[1]
	}
	return inputs, nil
}

func printRunResult(cmd *cobra.Command, flags *Flags, result orchestrator.Result) error {
	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: %s\n", result.WorkflowID, result.Status)
	for _, m := range result.ModelsExecuted {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-30s %d rows\n", m, result.RowCounts[m])
		for _, e := range result.Errors[m] {
			fmt.Fprintf(cmd.OutOrStdout(), "    error: %v\n", e)
		}
	}
	return nil
}
