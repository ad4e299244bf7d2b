package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"meme_bot/internal/model"
)

// Command verbs shared by /automeme and /aichat.
const (
	verbSet     = "set"
	verbDisable = "disable"
	verbStatus  = "status"
)

// AutoPostArgs holds the parsed arguments of /automeme.
type AutoPostArgs struct {
	Verb        string
	Minutes     int
	Destination string
	Category    model.Category
}

var errAutoPostUsage = errors.New("usage: /automeme set <minutes> [destination] [category] | disable | status")

// ParseAutoPostArgs parses arguments for /automeme.
// Format: set <minutes> [destination] [category] | disable | status
func ParseAutoPostArgs(args string) (AutoPostArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return AutoPostArgs{}, errAutoPostUsage
	}

	switch verb := strings.ToLower(parts[0]); verb {
	case verbDisable, verbStatus:
		if len(parts) > 1 {
			return AutoPostArgs{}, fmt.Errorf("%s takes no arguments", verb)
		}
		return AutoPostArgs{Verb: verb}, nil
	case verbSet:
	default:
		return AutoPostArgs{}, errAutoPostUsage
	}

	if len(parts) < 2 {
		return AutoPostArgs{}, errors.New("usage: /automeme set <minutes> [destination] [category]")
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < model.MinIntervalMinutes || mins > model.MaxIntervalMinutes {
		return AutoPostArgs{}, fmt.Errorf("interval must be between %d and %d minutes",
			model.MinIntervalMinutes, model.MaxIntervalMinutes)
	}

	out := AutoPostArgs{Verb: verbSet, Minutes: mins, Category: model.CategoryMeme}
	destSet, catSet := false, false
	for _, p := range parts[2:] {
		if c, ok := model.ParseCategory(strings.ToLower(p)); ok && !catSet {
			out.Category, catSet = c, true
			continue
		}
		if destSet {
			return AutoPostArgs{}, fmt.Errorf("unexpected argument %q", p)
		}
		out.Destination, destSet = p, true
	}
	return out, nil
}

// ParseVerb extracts a set/disable/status verb from command arguments.
func ParseVerb(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 {
		return "", errors.New("expected one of: set, disable, status")
	}
	switch v := strings.ToLower(parts[0]); v {
	case verbSet, verbDisable, verbStatus:
		return v, nil
	}
	return "", fmt.Errorf("unknown action %q, use: set, disable, status", parts[0])
}
