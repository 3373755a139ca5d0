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

// Command kurt runs and inspects pipeline execution core workflows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/boringdata/kurt-core/internal/cli"
	"github.com/boringdata/kurt-core/internal/tracing"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if shutdown, err := tracing.Setup(ctx, "kurt"); err == nil {
		defer shutdown(context.Background())
	}

	root := cli.NewRootCommand()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		os.Exit(cli.HandleExitError(err))
	}
}
