package filter

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Built-in non-content phrases. Matching is case-insensitive on the whole
// result, ignoring surrounding punctuation.
var defaultPhrases = []string{
	"no speech detected",
	"no speech",
	"unable to transcribe",
	"transcription failed",
	"transcription unavailable",
	"audio could not be processed",
	"inaudible",
	"blank_audio",
	"silence",
	"music",
	"thank you for watching",
	"thanks for watching",
	"subtitles by the amara.org community",
}

var defaultPatterns = []string{
	`m/^\[?\s*(error|err|exception)\s*[:\]]/`,
	`m/^(\s*[\[\(][^\]\)]*[\]\)])+\s*$/`,
	`m/^[\s\p{P}\p{S}]*$/`,
}

type matcher interface {
	Match(normalized string) bool
}

// RuleParser parses one rules-file line into a matcher.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (matcher, error)
}

// Filter recognizes transcription results that carry no speech content.
type Filter struct {
	matchers []matcher
}

// New builds the built-in filter, extended by the rules file at path when it
// exists.
func New(path string) (*Filter, error) {
	return NewWithParsers(path, defaultRuleParsers())
}

// NewWithParsers allows parser extension without filter changes.
func NewWithParsers(path string, parsers []RuleParser) (*Filter, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	builtins, err := parseRules(strings.Join(append(defaultPatterns, defaultPhrases...), "\n"), parsers)
	if err != nil {
		return nil, fmt.Errorf("built-in placeholder rules: %w", err)
	}
	f := &Filter{matchers: builtins}

	if strings.TrimSpace(path) == "" {
		return f, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read filter file %q: %w", path, err)
	}

	extra, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter file %q: %w", path, err)
	}
	f.matchers = append(f.matchers, extra...)
	return f, nil
}

// IsPlaceholder reports whether text is empty or matches a non-content rule.
func (f *Filter) IsPlaceholder(text string) bool {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return true
	}
	return lo.SomeBy(f.matchers, func(m matcher) bool {
		return m.Match(normalized)
	})
}

// Len is the number of compiled rules.
func (f *Filter) Len() int {
	return len(f.matchers)
}

func parseRules(contents string, parsers []RuleParser) ([]matcher, error) {
	lines := strings.Split(contents, "\n")
	matchers := make([]matcher, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parser, ok := lo.Find(parsers, func(p RuleParser) bool { return p.CanParse(line) })
		if !ok {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		m, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		matchers = append(matchers, m)
	}

	return matchers, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, phraseRuleParser{}}
}

type phraseRuleParser struct{}

func (phraseRuleParser) CanParse(line string) bool {
	return !looksLikeRegexRule(line)
}

func (phraseRuleParser) Parse(line string) (matcher, error) {
	phrase := normalizePhrase(line)
	if phrase == "" {
		return nil, errors.New("phrase rule cannot be empty")
	}
	return phraseRule{phrase: phrase}, nil
}

type phraseRule struct {
	phrase string
}

func (r phraseRule) Match(text string) bool {
	return normalizePhrase(text) == r.phrase
}

func normalizePhrase(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Trim(text, " \t.,!?;:-_[]()*\"'")
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool {
	return looksLikeRegexRule(line)
}

func (regexRuleParser) Parse(line string) (matcher, error) {
	return parseRegexRule(line)
}

type regexRule struct {
	re *regexp.Regexp
}

func (r regexRule) Match(text string) bool {
	return r.re.MatchString(text)
}

// parseRegexRule reads m<delim>pattern<delim>flags. Matching is
// case-insensitive unless the c flag is given.
func parseRegexRule(line string) (matcher, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isAlphaNumericOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	flags := strings.TrimSpace(line[pos:])

	ignoreCase := true
	prefixFlags := ""
	for _, flag := range flags {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'c':
			ignoreCase = false
		case 'm', 's':
			if !strings.ContainsRune(prefixFlags, flag) {
				prefixFlags += string(flag)
			}
		case ' ':
			continue
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if ignoreCase {
		prefixFlags = "i" + prefixFlags
	}
	if prefixFlags != "" {
		pattern = "(?" + prefixFlags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re}, nil
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}

func looksLikeRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 'm' && !isAlphaNumericOrSpace(line[1])
}
