package document

import "strings"

// Issue is a single validation finding with a 1-based position.
type Issue struct {
	Line    int
	Column  int
	Message string
}

// ValidationResult holds the outcome of Validate.
type ValidationResult struct {
	IsValid  bool
	Errors   []Issue
	Warnings []Issue
}

// Validate performs lightweight structural checks on the content.
// Embedded script-like constructs are reported as errors; suspicious
// empty-target links as warnings. Positions are 1-based.
func (d *Document) Validate() ValidationResult {
	content := d.Content()

	result := ValidationResult{IsValid: true}

	for i, line := range strings.Split(content, "\n") {
		lineNo := i + 1
		lower := strings.ToLower(line)

		if col := strings.Index(lower, "<script"); col >= 0 {
			result.Errors = append(result.Errors, Issue{
				Line:    lineNo,
				Column:  col + 1,
				Message: "embedded script element is not allowed",
			})
		}
		if col := strings.Index(lower, "javascript:"); col >= 0 {
			result.Errors = append(result.Errors, Issue{
				Line:    lineNo,
				Column:  col + 1,
				Message: "javascript: link target is not allowed",
			})
		}
		for _, col := range emptyLinkTargets(line) {
			result.Warnings = append(result.Warnings, Issue{
				Line:    lineNo,
				Column:  col + 1,
				Message: "link has an empty target",
			})
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// emptyLinkTargets returns the 0-based columns of markdown links whose
// target is empty, e.g. "[text]()".
func emptyLinkTargets(line string) []int {
	var cols []int
	for i := 0; i+1 < len(line); i++ {
		if line[i] != ']' {
			continue
		}
		if line[i+1] != '(' {
			continue
		}
		// Skip whitespace inside the parentheses.
		j := i + 2
		for j < len(line) && (line[j] == ' ' || line[j] == '\t') {
			j++
		}
		if j < len(line) && line[j] == ')' {
			// Report at the opening bracket if we can find it.
			col := strings.LastIndex(line[:i], "[")
			if col < 0 {
				col = i
			}
			cols = append(cols, col)
		}
	}
	return cols
}
