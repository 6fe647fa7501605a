package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	windowDelimiter = regexp.MustCompile(`\s*(?:\||;|\s-\s)\s*`)
	windowToken     = regexp.MustCompile(`(?i)^[\[(]?\d+(?:h|hr|hours|m|min|minutes)?[\])]?[.,!]*$`)
	windowValue     = regexp.MustCompile(`(?i)^(\d+)(h|hr|hours|m|min|minutes)?$`)
)

// NormalizeText folds diacritics and case so titles compare the way people type them.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// ParseWindow reads a window token such as "6", "6h", "[90min]" or "(2 hours)".
// ok is false when the token is not a positive duration.
func ParseWindow(token string) (time.Duration, bool) {
	token = strings.TrimSpace(token)
	token = strings.TrimRight(token, ".,!")
	token = strings.Trim(token, "[]()")
	token = strings.ReplaceAll(token, " ", "")

	m := windowValue.FindStringSubmatch(token)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}

	unit := time.Hour
	switch strings.ToLower(m[2]) {
	case "m", "min", "minutes":
		unit = time.Minute
	}
	return time.Duration(n) * unit, true
}

// SplitTitleWindow separates the proposal title from its optional trailing window token.
// A missing, zero or unparseable token yields fallback.
func SplitTitleWindow(rest string, fallback time.Duration) (string, time.Duration, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", 0, validationf("proposal title is empty")
	}

	var title, token string
	parts := lo.Filter(windowDelimiter.Split(rest, -1), func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	})
	fields := strings.Fields(rest)
	switch {
	case len(parts) > 1:
		title, token = strings.Join(parts[:len(parts)-1], " | "), parts[len(parts)-1]
	case len(fields) > 1 && windowToken.MatchString(fields[len(fields)-1]):
		title, token = strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
	default:
		return rest, fallback, nil
	}

	title = strings.TrimSpace(strings.Trim(title, " |;-"))
	if title == "" {
		return rest, fallback, nil
	}
	window, ok := ParseWindow(token)
	if !ok {
		window = fallback
	}
	return title, window, nil
}

// VoteArgs is a parsed vote command.
type VoteArgs struct {
	Reference string
	// nil when only the lock status was asked for
	Choice *Choice
}

// TokenSet recognises yes/no answers after normalization.
type TokenSet struct {
	yes map[string]bool
	no  map[string]bool
}

func NewTokenSet(yes, no []string) *TokenSet {
	build := func(tokens []string) map[string]bool {
		return lo.SliceToMap(tokens, func(t string) (string, bool) {
			return NormalizeText(t), true
		})
	}
	return &TokenSet{yes: build(yes), no: build(no)}
}

// Choice classifies a single token; ok is false for anything that is not an answer.
func (ts *TokenSet) Choice(token string) (Choice, bool) {
	t := NormalizeText(strings.Trim(token, `"'“”[]().,!`))
	switch {
	case ts.yes[t]:
		return Yes, true
	case ts.no[t]:
		return No, true
	}
	return "", false
}

var bracketAnswer = regexp.MustCompile(`^(.*?)\s*\[([^\]]+)\]$`)

// ParseVoteArgs splits "<reference> [yes|no]" into its parts. "name[yes]" is also accepted.
func (ts *TokenSet) ParseVoteArgs(rest string) (VoteArgs, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return VoteArgs{}, validationf("usage: vote <id|last|title|number> [yes|no]")
	}

	if m := bracketAnswer.FindStringSubmatch(rest); m != nil {
		if c, ok := ts.Choice(m[2]); ok && strings.TrimSpace(m[1]) != "" {
			return VoteArgs{Reference: unquote(m[1]), Choice: &c}, nil
		}
	}

	fields := strings.Fields(rest)
	if len(fields) > 1 {
		if c, ok := ts.Choice(fields[len(fields)-1]); ok {
			return VoteArgs{Reference: unquote(strings.Join(fields[:len(fields)-1], " ")), Choice: &c}, nil
		}
	}

	ref := unquote(rest)
	if ref == "" {
		return VoteArgs{}, validationf("vote reference is empty")
	}
	return VoteArgs{Reference: ref}, nil
}

func unquote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'“”`))
}
