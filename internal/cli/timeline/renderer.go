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

// Package timeline renders an ASCII timeline of a workflow run's step logs,
// for "kurt status" to print alongside the structured/JSON view.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/boringdata/kurt-core/pkg/tracker"
	"golang.org/x/term"
)

const (
	// MinTerminalWidth is the minimum supported terminal width.
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars.
	DefaultBarWidth = 40
	// StatusIconOK indicates a completed step.
	StatusIconOK = "✓"
	// StatusIconError indicates a failed or canceled step.
	StatusIconError = "✗"
	// StatusIconRunning indicates a step still in progress.
	StatusIconRunning = "…"
)

// Renderer renders ASCII timelines from step logs.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer creates a new timeline renderer with terminal width detection.
func NewRenderer() (*Renderer, error) {
	width, _, err := term.GetSize(0)
	if err != nil {
		width = 100
	}

	if width < MinTerminalWidth {
		return nil, fmt.Errorf("terminal width %d is too narrow (minimum %d columns)", width, MinTerminalWidth)
	}

	barWidth := width - 50
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < DefaultBarWidth {
		barWidth = DefaultBarWidth
	}

	return &Renderer{Width: width, BarWidth: barWidth}, nil
}

// Render generates an ASCII timeline of runID's step logs.
func (r *Renderer) Render(runID string, logs []tracker.StepLog) (string, error) {
	if len(logs) == 0 {
		return "", fmt.Errorf("no step logs to render")
	}

	minTime, maxTime := r.calculateBounds(logs)
	totalDuration := maxTime.Sub(minTime)
	if totalDuration <= 0 {
		totalDuration = time.Millisecond
	}

	var sb strings.Builder

	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")
	sb.WriteString(fmt.Sprintf("│ Run: %-*s Total: %s  │\n",
		r.Width-24, truncate(runID, r.Width-24), formatDuration(totalDuration)))
	sb.WriteString("├" + border + "┤\n")

	for _, log := range logs {
		sb.WriteString(r.renderStep(log, minTime, totalDuration))
	}

	sb.WriteString("└" + border + "┘\n")

	return sb.String(), nil
}

func (r *Renderer) calculateBounds(logs []tracker.StepLog) (time.Time, time.Time) {
	now := time.Now()
	minTime, maxTime := now, now
	first := true
	for _, l := range logs {
		if l.StartedAt == nil {
			continue
		}
		end := now
		if l.CompletedAt != nil {
			end = *l.CompletedAt
		}
		if first {
			minTime, maxTime = *l.StartedAt, end
			first = false
			continue
		}
		if l.StartedAt.Before(minTime) {
			minTime = *l.StartedAt
		}
		if end.After(maxTime) {
			maxTime = end
		}
	}
	return minTime, maxTime
}

func (r *Renderer) renderStep(log tracker.StepLog, minTime time.Time, totalDuration time.Duration) string {
	var start, end time.Time
	if log.StartedAt != nil {
		start = *log.StartedAt
	} else {
		start = minTime
	}
	if log.CompletedAt != nil {
		end = *log.CompletedAt
	} else {
		end = time.Now()
	}
	duration := end.Sub(start)

	startOffset := start.Sub(minTime)
	startPos := int(float64(startOffset) / float64(totalDuration) * float64(r.BarWidth))
	barLength := int(float64(duration) / float64(totalDuration) * float64(r.BarWidth))
	if barLength < 1 {
		barLength = 1
	}
	if startPos+barLength > r.BarWidth {
		barLength = r.BarWidth - startPos
	}
	if barLength < 0 {
		barLength = 0
	}

	bar := make([]rune, r.BarWidth)
	for i := 0; i < r.BarWidth; i++ {
		if i >= startPos && i < startPos+barLength {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}

	icon := statusIcon(log.Status)
	name := truncate(log.StepID, 20)

	return fmt.Sprintf("│ %-20s %s  %6s  %s  %3d rows │\n",
		name, string(bar), formatDuration(duration), icon, log.OutputCount)
}

func statusIcon(status string) string {
	switch status {
	case "completed":
		return StatusIconOK
	case "failed", "canceled":
		return StatusIconError
	default:
		return StatusIconRunning
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
