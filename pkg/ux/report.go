// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// ReportOptions tunes RenderReport.
type ReportOptions struct {
	// Source names the input, e.g. a file path or "stdin".
	Source string

	// ShowTests includes the generated test code.
	ShowTests bool

	// Elapsed is the wall-clock time of the run. Zero omits it.
	Elapsed time.Duration

	// Width is the box width. Zero uses 80.
	Width int
}

// WriteReport writes resp to w in the given mode.
func WriteReport(w io.Writer, mode Mode, resp datatypes.ExecutionResponse, opts ReportOptions) error {
	if mode == ModeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err := fmt.Fprintln(w, RenderReport(resp, opts))
	return err
}

// RenderReport renders resp as a styled, boxed report.
func RenderReport(resp datatypes.ExecutionResponse, opts ReportOptions) string {
	width := opts.Width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	header := "TestForge"
	if opts.Source != "" {
		header += " " + Styles.Muted.Render(opts.Source)
	}
	b.WriteString(Styles.Title.Render(header))
	if opts.Elapsed > 0 {
		b.WriteString(Styles.Muted.Render(fmt.Sprintf("  (%s)", opts.Elapsed.Round(time.Millisecond))))
	}
	b.WriteString("\n")

	if !resp.Success {
		title := fmt.Sprintf("%s %s", IconError.Render(), Styles.Error.Bold(true).Render(resp.ErrorKindOrEmpty()))
		details := ""
		if resp.Details != nil {
			details = *resp.Details
		}
		b.WriteString(Styles.ErrorBox.Width(width).Render(title + "\n" + details))
		return b.String()
	}

	var lines []string
	for _, outcome := range resp.TestResults {
		lines = append(lines, renderOutcome(outcome))
	}
	b.WriteString(Styles.Box.Width(width).Render(strings.Join(lines, "\n")))

	if opts.ShowTests && resp.GeneratedTestCode != nil {
		b.WriteString("\n")
		b.WriteString(Styles.Bold.Render("Generated tests"))
		b.WriteString("\n")
		b.WriteString(Styles.Code.Render(*resp.GeneratedTestCode))
	}
	return b.String()
}

func renderOutcome(o datatypes.TestOutcome) string {
	var icon Icon
	var nameStyle lipgloss.Style
	switch o.Status {
	case datatypes.StatusPassed:
		icon, nameStyle = IconSuccess, Styles.Success
	case datatypes.StatusFailed:
		icon, nameStyle = IconError, Styles.Error
	case datatypes.StatusWarning:
		icon, nameStyle = IconWarning, Styles.Warning
	default:
		icon, nameStyle = IconSkipped, Styles.Muted
	}

	lines := []string{fmt.Sprintf("%s %s", icon.Render(), nameStyle.Bold(true).Render(o.TestName))}
	for _, a := range o.Assertions {
		lines = append(lines, "    "+Styles.Muted.Render(string(IconBullet)+" "+a))
	}
	if o.ErrorMessage != nil && *o.ErrorMessage != "" {
		lines = append(lines, "    "+Styles.Error.Render(*o.ErrorMessage))
	}
	return strings.Join(lines, "\n")
}
