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

	_ "github.com/boringdata/kurt-core/pkg/models"
	"github.com/boringdata/kurt-core/pkg/provider"
	"github.com/spf13/cobra"
)

func newProvidersCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect the provider registry",
	}
	cmd.AddCommand(newProvidersListCommand(flags))
	return cmd
}

func newProvidersListCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <tool>",
		Short: "List providers discovered for a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool := args[0]
			reg := provider.GetRegistry()
			descs := reg.List(tool)

			if flags.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}

			if len(descs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no providers discovered for tool %q\n", tool)
				return nil
			}

			for _, d := range descs {
				missing := reg.Validate(tool, d.Name)
				status := "ready"
				if len(missing) > 0 {
					status = fmt.Sprintf("missing env: %v", missing)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %s\n", d.Name, d.Version, status)
			}
			return nil
		},
	}
}
