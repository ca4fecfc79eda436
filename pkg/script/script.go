// SPDX-License-Identifier: Apache-2.0

// Package script splits migration scripts into statements, substitutes
// ${name} variables and extracts per-statement ignore directives from the
// comment block preceding each statement.
package script

import (
	"fmt"
	"strings"
)

// Script is a named, segmented migration script.
type Script struct {
	Name       string
	Statements []Statement
}

// Statement is a single SQL statement from a script, before lowering.
type Statement struct {
	// Index is the 1-based position of the statement in its script.
	Index int
	// SQL is the statement text with variables substituted, without the
	// trailing semicolon.
	SQL string
	// LineNumber is the 1-based line of the first statement token.
	LineNumber int
	// IgnoredRules lists rule IDs from `-- eugene: ignore ID[, ID...]`
	// directives in the comment block preceding the statement.
	IgnoredRules []string
	// IgnoreAll is set by a bare `-- eugene: ignore` directive and
	// suppresses every trigger on the statement.
	IgnoreAll bool
	// Err records a segmentation failure, such as a dollar-quoted body,
	// that makes the statement text unreliable.
	Err error
}

// Ignores reports whether a trigger of ruleID is suppressed on this statement.
func (s Statement) Ignores(ruleID string) bool {
	if s.IgnoreAll {
		return true
	}
	for _, id := range s.IgnoredRules {
		if id == ruleID {
			return true
		}
	}
	return false
}

// UnknownVariableError is returned when a script references a variable that
// was not bound.
type UnknownVariableError struct {
	Script string
	Name   string
}

func (e UnknownVariableError) Error() string {
	return fmt.Sprintf("script %q references unknown variable ${%s}", e.Script, e.Name)
}

// ErrDollarQuote marks statements containing dollar-quoted bodies, which the
// segmenter does not support.
var ErrDollarQuote = fmt.Errorf("dollar-quoted strings are not supported")

// Segment substitutes variables into text and splits it into statements.
func Segment(name, text string, variables map[string]string) (Script, error) {
	substituted, err := substitute(name, text, variables)
	if err != nil {
		return Script{}, err
	}

	segments := split(substituted)

	statements := make([]Statement, 0, len(segments))
	for _, seg := range segments {
		sql := strings.TrimSpace(seg.text)
		if sql == "" || onlyComments(sql) {
			continue
		}
		stmt := Statement{
			Index:      len(statements) + 1,
			SQL:        sql,
			LineNumber: seg.line,
			Err:        seg.err,
		}
		stmt.IgnoredRules, stmt.IgnoreAll = directives(seg.precedingComments)
		statements = append(statements, stmt)
	}

	return Script{Name: name, Statements: statements}, nil
}

// substitute replaces every ${name} occurrence outside of nothing in
// particular: substitution is textual and happens before segmentation, the
// way shell-style variables behave.
func substitute(script, text string, variables map[string]string) (string, error) {
	var out strings.Builder
	out.Grow(len(text))

	for i := 0; i < len(text); {
		start := strings.Index(text[i:], "${")
		if start < 0 {
			out.WriteString(text[i:])
			break
		}
		start += i
		end := strings.Index(text[start:], "}")
		if end < 0 {
			out.WriteString(text[i:])
			break
		}
		end += start

		name := text[start+2 : end]
		value, ok := variables[name]
		if !ok {
			return "", UnknownVariableError{Script: script, Name: name}
		}

		out.WriteString(text[i:start])
		out.WriteString(value)
		i = end + 1
	}

	return out.String(), nil
}

type segment struct {
	text              string
	line              int
	precedingComments []string
	err               error
}

// split scans text and cuts it at statement-level semicolons, respecting
// single-quoted strings, quoted identifiers and comments. Dollar quoting is
// not supported; a statement containing one is flagged with ErrDollarQuote.
func split(text string) []segment {
	var segments []segment

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	line := 1
	segStart := 0
	segLine := 0
	var segErr error

	flush := func(end int) {
		segments = append(segments, segment{
			text: text[segStart:end],
			line: segLine,
			err:  segErr,
		})
		segStart = end + 1
		segLine = 0
		segErr = nil
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			line++
			if state == stateLineComment {
				state = stateNormal
			}
			continue
		}

		switch state {
		case stateSingleQuote:
			if c == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(text) && text[i+1] == '/' {
				state = stateNormal
				i++
			}
		case stateLineComment:
			// consumed until newline above
		case stateNormal:
			switch {
			case c == '-' && i+1 < len(text) && text[i+1] == '-':
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(text) && text[i+1] == '*':
				state = stateBlockComment
				i++
			case c == ';':
				flush(i)
			default:
				if segLine == 0 && !isSpace(c) {
					segLine = line
				}
				switch {
				case c == '\'':
					state = stateSingleQuote
				case c == '"':
					state = stateDoubleQuote
				case c == '$' && isDollarQuoteStart(text[i:]):
					segErr = ErrDollarQuote
				}
			}
		}
	}
	if segStart < len(text) {
		flush(len(text))
	}

	attachComments(segments)
	return segments
}

// isDollarQuoteStart reports whether s begins a dollar-quote opener such as
// $$ or $body$. A lone $ in an expression does not count.
func isDollarQuoteStart(s string) bool {
	if len(s) < 2 {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return true
		}
		if !isIdentChar(c) {
			return false
		}
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// attachComments collects, for each segment, the contiguous block of `--`
// comment lines directly above the first statement token.
func attachComments(segments []segment) {
	for i := range segments {
		lines := strings.Split(segments[i].text, "\n")

		// find the first line holding a statement token
		first := 0
		for ; first < len(lines); first++ {
			trimmed := strings.TrimSpace(lines[first])
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				break
			}
		}

		// walk back over the contiguous comment block above it
		var comments []string
		for j := first - 1; j >= 0; j-- {
			trimmed := strings.TrimSpace(lines[j])
			if !strings.HasPrefix(trimmed, "--") {
				break
			}
			comments = append([]string{trimmed}, comments...)
		}
		segments[i].precedingComments = comments
	}
}

// onlyComments reports whether sql consists entirely of comment lines.
func onlyComments(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			return false
		}
	}
	return true
}

const directivePrefix = "eugene:"

// directives parses `-- eugene: ignore [ID ...]` lines. Multiple directives
// are additive; a directive without IDs ignores everything. Separators are
// any run of commas or whitespace, and unknown IDs are kept as-is: ignoring
// a rule that never fires is a no-op, not an error.
func directives(comments []string) (ids []string, ignoreAll bool) {
	for _, comment := range comments {
		content := strings.TrimSpace(strings.TrimPrefix(comment, "--"))
		if !strings.HasPrefix(content, directivePrefix) {
			continue
		}
		content = strings.TrimSpace(strings.TrimPrefix(content, directivePrefix))

		fields := strings.FieldsFunc(content, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) == 0 || fields[0] != "ignore" {
			continue
		}
		if len(fields) == 1 {
			ignoreAll = true
			continue
		}
		for _, field := range fields[1:] {
			if isRuleID(field) {
				ids = append(ids, field)
			}
		}
	}
	return ids, ignoreAll
}

// isRuleID matches an uppercase letter followed by digits.
func isRuleID(s string) bool {
	if len(s) < 2 || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
