// Package filter implements the content rules applied to fetched items
// before they enter a cache pool.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"meme_bot/internal/model"
)

// Kind defines the type of a rule.
type Kind string

// Supported rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Scope defines which part of an item a rule matches against.
type Scope string

// Supported scopes.
const (
	ScopeTitle Scope = "title"
	ScopeText  Scope = "text"
	ScopeAll   Scope = "all"
)

// Rule is a single filtering rule.
type Rule struct {
	Kind  Kind
	Scope Scope
	Value string
}

type compiled struct {
	Rule
	re *regexp.Regexp
}

// Set is a compiled, immutable list of rules. The zero value passes everything.
type Set struct {
	rules []compiled
}

// Compile validates rules and prepares their regular expressions.
func Compile(rules []Rule) (*Set, error) {
	s := &Set{rules: make([]compiled, 0, len(rules))}
	for _, r := range rules {
		c := compiled{Rule: r}
		switch r.Kind {
		case IncludeRe, ExcludeRe:
			re, err := regexp.Compile("(?i)" + r.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", r.Value, err)
			}
			c.re = re
		case Include, Exclude:
			c.Value = strings.ToLower(r.Value)
		default:
			return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
		}
		s.rules = append(s.rules, c)
	}
	return s, nil
}

// ExcludeRules builds exclude rules over title and text from plain words and
// regular expressions.
func ExcludeRules(words, patterns []string) []Rule {
	rules := make([]Rule, 0, len(words)+len(patterns))
	for _, w := range words {
		rules = append(rules, Rule{Kind: Exclude, Scope: ScopeAll, Value: w})
	}
	for _, p := range patterns {
		rules = append(rules, Rule{Kind: ExcludeRe, Scope: ScopeAll, Value: p})
	}
	return rules
}

// Match checks whether an item passes the set.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (s *Set) Match(item model.Item) bool {
	if s == nil || len(s.rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range s.rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if r.matches(item) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if r.matches(item) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

func (r compiled) matches(item model.Item) bool {
	text := textForScope(item, r.Scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.Value)
}

func textForScope(item model.Item, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(item.Title)
	case ScopeText:
		return strings.ToLower(item.Text + " " + item.Punch)
	default:
		return strings.ToLower(item.Title + " " + item.Text + " " + item.Punch)
	}
}
