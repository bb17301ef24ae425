package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultIterationLimit bounds how many passes Normalize makes before giving up on a fixed point.
const DefaultIterationLimit = 30

// ErrNoFixedPoint is returned when the rule set keeps rewriting text past the iteration limit.
var ErrNoFixedPoint = errors.New("terminology rules did not converge")

type substitution interface {
	Rewrite(input string) (output string, changed bool)
}

// Syntax recognises and compiles one line of a terminology file.
type Syntax interface {
	Matches(line string) bool
	Compile(line string) (substitution, error)
}

// Terminology rewrites transcribed utterances into the clinic's preferred vocabulary
// (drug names, abbreviations, anatomy terms the recogniser tends to mangle).
type Terminology struct {
	source string
	subs   []substitution
	limit  int
}

// Load reads a terminology file. A missing file yields an empty, pass-through rule set.
func Load(path string, limit int) (*Terminology, error) {
	return LoadWithSyntax(path, limit, builtinSyntax())
}

// LoadWithSyntax lets callers add line formats ahead of the built-in ones.
func LoadWithSyntax(path string, limit int, syntax []Syntax) (*Terminology, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse("", limit, syntax)
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse("", limit, syntax)
	}
	if err != nil {
		return nil, fmt.Errorf("read terminology file %q: %w", path, err)
	}

	terms, err := Parse(string(contents), limit, syntax)
	if err != nil {
		return nil, fmt.Errorf("terminology file %q: %w", path, err)
	}
	terms.source = path
	return terms, nil
}

// Parse compiles rules from text. Blank lines and lines starting with # are ignored.
func Parse(text string, limit int, syntax []Syntax) (*Terminology, error) {
	if limit <= 0 {
		limit = DefaultIterationLimit
	}
	if len(syntax) == 0 {
		syntax = builtinSyntax()
	}

	terms := &Terminology{limit: limit}
	for number, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sub, err := compileLine(line, syntax)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		terms.subs = append(terms.subs, sub)
	}
	return terms, nil
}

func compileLine(line string, syntax []Syntax) (substitution, error) {
	for _, s := range syntax {
		if s.Matches(line) {
			return s.Compile(line)
		}
	}
	return nil, errors.New("unrecognised rule")
}

// Len reports the number of compiled rules.
func (t *Terminology) Len() int { return len(t.subs) }

// Source is the file the rules were read from, empty when none was found.
func (t *Terminology) Source() string { return t.source }

// Apply runs every rule repeatedly until the text stops changing.
func (t *Terminology) Apply(text string) (string, error) {
	if len(t.subs) == 0 {
		return text, nil
	}

	current := text
	for pass := 0; pass < t.limit; pass++ {
		dirty := false
		for _, sub := range t.subs {
			if next, changed := sub.Rewrite(current); changed {
				current = next
				dirty = true
			}
		}
		if !dirty {
			return current, nil
		}
	}
	return current, fmt.Errorf("%w after %d passes", ErrNoFixedPoint, t.limit)
}

func builtinSyntax() []Syntax {
	return []Syntax{sedSyntax{}, arrowSyntax{}}
}

// arrowSyntax handles "from => to", matched case-insensitively as a literal.
type arrowSyntax struct{}

func (arrowSyntax) Matches(line string) bool { return strings.Contains(line, "=>") }

func (arrowSyntax) Compile(line string) (substitution, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("empty source term")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, err
	}
	return pattern{re: re, repl: strings.TrimSpace(to), all: true}, nil
}

// sedSyntax handles "s/re/repl/flags" with any non-alphanumeric delimiter.
// Patterns are case-insensitive unless the C flag is given.
type sedSyntax struct{}

func (sedSyntax) Matches(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func (sedSyntax) Compile(line string) (substitution, error) {
	if len(line) < 2 || isWordByte(line[1]) {
		return nil, errors.New("expression delimiter must be punctuation")
	}
	delim := line[1]

	expr, next, err := readField(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	repl, next, err := readField(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	fold, all := true, false
	var inline strings.Builder
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'g':
			all = true
		case 'i':
			fold = true
		case 'C':
			fold = false
		case 'm', 's':
			inline.WriteRune(flag)
		default:
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}
	if fold {
		inline.WriteByte('i')
	}
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return pattern{re: re, repl: repl, all: all}, nil
}

type pattern struct {
	re   *regexp.Regexp
	repl string
	all  bool
}

func (p pattern) Rewrite(input string) (string, bool) {
	if p.all {
		out := p.re.ReplaceAllString(input, p.repl)
		return out, out != input
	}

	loc := p.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	var dst []byte
	dst = p.re.ExpandString(dst, p.repl, input, loc)
	out := input[:loc[0]] + string(dst) + input[loc[1]:]
	return out, out != input
}

func readField(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of rule")
	}
	var b strings.Builder
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == delim:
			b.WriteByte(delim)
			i++
		case c == '\\' && i+1 < len(line):
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated field")
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == ' ' || c == '\t'
}
