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

	"github.com/boringdata/kurt-core/internal/cli/timeline"
	"github.com/boringdata/kurt-core/internal/store"
	"github.com/boringdata/kurt-core/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatusCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id-or-prefix>",
		Short: "Show a workflow run's live status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(store.Config{Path: flags.DBPath})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			ls, err := tracker.GetLiveStatus(cmd.Context(), s.DB(), args[0])
			if err != nil {
				return err
			}

			if flags.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ls)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", ls.RunID, ls.Workflow, ls.Status)
			for _, l := range ls.StepLogs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %-12s in=%d out=%d err=%d\n",
					l.StepID, l.Status, l.InputCount, l.OutputCount, l.ErrorCount)
			}

			if len(ls.StepLogs) > 0 {
				if r, err := timeline.NewRenderer(); err == nil {
					if rendered, err := r.Render(ls.RunID, ls.StepLogs); err == nil {
						fmt.Fprintln(cmd.OutOrStdout())
						fmt.Fprint(cmd.OutOrStdout(), rendered)
					}
				}
			}

			return nil
		},
	}
	return cmd
}
