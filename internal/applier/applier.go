// Package applier splices validated patches into in-memory source strings.
// Guardrail never touches disk directly: source arrives over the API and the
// patched result is handed back the same way, with the rollback store
// holding the only durable copy of prior versions.
package applier

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"guardrail/internal/logging"
)

var parser = newParser()

func newParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return p
}

func parses(source string) bool {
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil || tree == nil {
		return false
	}
	return !tree.RootNode().HasError()
}

// splitLinesKeepEnds mirrors Python's str.splitlines(keepends=True): every
// element retains its trailing newline except possibly the last.
func splitLinesKeepEnds(source string) []string {
	if source == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			lines = append(lines, source[start:i+1])
			start = i + 1
		}
	}
	if start < len(source) {
		lines = append(lines, source[start:])
	}
	return lines
}

func indentOf(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	return line[:len(line)-len(trimmed)]
}

// dedent strips the common leading whitespace shared by every non-blank line,
// the same heuristic as Python's textwrap.dedent.
func dedent(code string) string {
	lines := strings.Split(code, "\n")
	var common string
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		prefix := indentOf(line)
		if first {
			common = prefix
			first = false
			continue
		}
		common = commonPrefix(common, prefix)
	}
	if common == "" {
		return code
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, common)
	}
	return strings.Join(lines, "\n")
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// reindent applies indent to every non-blank line of code (textwrap.indent).
func reindent(code, indent string) string {
	if indent == "" {
		return code
	}
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

// FunctionPatch replaces one function (including any decorator lines) with
// new source, over the caller-supplied startLine..endLine range. Returns the
// patched source, or ("", false) if startLine is out of range or the result
// fails to parse.
func FunctionPatch(source, targetFunction, newFunctionCode string, startLine, endLine int) (string, bool) {
	lines := splitLinesKeepEnds(source)
	if startLine < 1 || startLine > len(lines) {
		logging.Get(logging.CategoryApplier).Warn("function '%s' start line %d out of range", targetFunction, startLine)
		return "", false
	}

	originalIndent := indentOf(lines[startLine-1])

	dedented := strings.TrimSpace(dedent(newFunctionCode))
	indented := dedented
	if originalIndent != "" {
		indented = reindent(dedented, originalIndent)
	}
	if !strings.HasSuffix(indented, "\n") {
		indented += "\n"
	}

	before := strings.Join(lines[:startLine-1], "")
	var after string
	if endLine < len(lines) {
		after = strings.Join(lines[endLine:], "")
	}

	patched := before + indented + after

	if !parses(patched) {
		logging.Get(logging.CategoryApplier).Warn("patched source for '%s' has syntax error", targetFunction)
		return "", false
	}

	logging.ApplierDebug("applied patch to '%s' (lines %d-%d replaced)", targetFunction, startLine, endLine)
	return patched, true
}

// LineRangePatch replaces a 1-indexed, inclusive line range with new code.
func LineRangePatch(source string, startLine, endLine int, newCode string) (string, bool) {
	lines := splitLinesKeepEnds(source)
	if startLine < 1 || endLine > len(lines) || startLine > endLine {
		logging.Get(logging.CategoryApplier).Warn("invalid line range %d-%d (file has %d lines)", startLine, endLine, len(lines))
		return "", false
	}

	indent := indentOf(lines[startLine-1])
	dedented := strings.TrimSpace(dedent(newCode))
	indented := reindent(dedented, indent)
	if !strings.HasSuffix(indented, "\n") {
		indented += "\n"
	}

	before := strings.Join(lines[:startLine-1], "")
	after := strings.Join(lines[endLine:], "")
	patched := before + indented + after

	if !parses(patched) {
		logging.Get(logging.CategoryApplier).Warn("line range patch produced syntax error")
		return "", false
	}

	return patched, true
}
