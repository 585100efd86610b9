// File: internal/action/depfile.go
// Brief: Make-style dependency file parsing.

package action

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Rule is one "targets: prerequisites" entry of a depfile.
type Rule struct {
	Targets []string
	Prereqs []string
}

// ParseDepFile reads the dependency files gcc and clang write with -MD.
// Backslash-newline continues a rule, "\ " escapes a space and "$$" a
// dollar sign.
func ParseDepFile(r io.Reader) ([]Rule, error) {
	var (
		rules   []Rule
		logical strings.Builder
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	flush := func() error {
		line := logical.String()
		logical.Reset()
		if strings.TrimSpace(line) == "" {
			return nil
		}
		rule, err := parseRule(line)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	}
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(strings.TrimSpace(line), "#") && logical.Len() == 0 {
			continue
		}
		if n := trailingBackslashes(line); n%2 == 1 {
			logical.WriteString(line[:len(line)-1])
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(line)
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read depfile: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return rules, nil
}

func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}

func parseRule(line string) (Rule, error) {
	words := splitWords(line)
	var rule Rule
	inPrereqs := false
	for _, w := range words {
		if inPrereqs {
			rule.Prereqs = append(rule.Prereqs, w.text)
			continue
		}
		if w.colon {
			if w.text != "" {
				rule.Targets = append(rule.Targets, w.text)
			}
			inPrereqs = true
			continue
		}
		rule.Targets = append(rule.Targets, w.text)
	}
	if !inPrereqs {
		return Rule{}, fmt.Errorf("depfile: missing ':' in %q", strings.TrimSpace(line))
	}
	return rule, nil
}

type word struct {
	text string
	// colon marks the word that ended the target list.
	colon bool
}

func splitWords(line string) []word {
	var (
		words  []word
		cur    strings.Builder
		have   bool
		seenCo bool
	)
	emit := func(colon bool) {
		if have || colon {
			words = append(words, word{text: cur.String(), colon: colon})
		}
		cur.Reset()
		have = false
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '#' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			have = true
			i++
		case c == '$' && i+1 < len(line) && line[i+1] == '$':
			cur.WriteByte('$')
			have = true
			i++
		case c == ' ' || c == '\t':
			emit(false)
		case c == ':' && !seenCo && isRuleColon(line, i):
			seenCo = true
			emit(true)
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	emit(false)
	return words
}

// isRuleColon tells a rule separator from a drive letter such as "C:\x".
func isRuleColon(line string, i int) bool {
	if i+1 >= len(line) {
		return true
	}
	next := line[i+1]
	if next == ' ' || next == '\t' {
		return true
	}
	if i == 1 || (i >= 2 && (line[i-2] == ' ' || line[i-2] == '\t')) {
		return !(next == '\\' || next == '/')
	}
	return true
}

// ReadDepFile parses path and returns every prerequisite, in order and
// without duplicates, that is not itself one of skip.
func ReadDepFile(path string, skip []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open depfile: %w", err)
	}
	defer f.Close()
	rules, err := ParseDepFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	seen := map[string]bool{}
	for _, s := range skip {
		seen[s] = true
	}
	var out []string
	for _, r := range rules {
		// Phony "header:" rules from -MP have no prerequisites.
		if len(r.Prereqs) == 0 {
			continue
		}
		for _, t := range r.Targets {
			seen[t] = true
		}
	}
	for _, r := range rules {
		for _, p := range r.Prereqs {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
