package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var exprPattern = regexp.MustCompile(`\${([^}]+)}`)

// Template is a string with embedded ${...} expressions, compiled once and
// rendered against a globals map.
type Template struct {
	raw      string
	literals []string
	codes    []Script
}

// NewTemplate compiles every ${...} expression in raw using the given
// engine. A string without expressions renders as itself.
func NewTemplate(engine Compiler, raw string) (*Template, error) {
	if strings.Count(raw, "${") > strings.Count(raw, "}") {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	t := &Template{raw: raw}
	matches := exprPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return t, nil
	}
	var lastEnd int
	for _, match := range matches {
		t.literals = append(t.literals, raw[lastEnd:match[0]])
		code := raw[match[2]:match[3]]
		compiled, err := engine.Compile(context.Background(), code)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", code, err)
		}
		t.codes = append(t.codes, compiled)
		lastEnd = match[1]
	}
	t.literals = append(t.literals, raw[lastEnd:])
	return t, nil
}

// Eval renders the template. Literal segments and evaluated expressions are
// interleaved in source order.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		return t.raw, nil
	}
	var sb strings.Builder
	for i, code := range t.codes {
		sb.WriteString(t.literals[i])
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		sb.WriteString(result.String())
	}
	sb.WriteString(t.literals[len(t.literals)-1])
	return sb.String(), nil
}
