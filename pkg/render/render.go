// SPDX-License-Identifier: Apache-2.0

// Package render turns assembled reports into terminal, JSON or markdown
// output.
package render

import (
	"fmt"
	"io"

	"github.com/kaaveland/eugene/pkg/report"
)

// Format selects an output renderer.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPlain, FormatJSON, FormatMarkdown:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q, expected plain, json or markdown", s)
	}
}

// Reports renders every report to w in the chosen format.
func Reports(w io.Writer, format Format, reports []report.Report) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, reports)
	case FormatMarkdown:
		return renderMarkdown(w, reports)
	default:
		return renderPlain(w, reports)
	}
}
