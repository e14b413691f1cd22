package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jmehdipour/sms-forwarder/internal/model"
)

func (e *Engine) matchKeyword(rule model.FilterRule, body string) (bool, error) {
	if rule.Pattern == "" {
		return false, nil
	}
	if rule.IsRegex {
		re, err := e.regex.get(rule.Pattern, rule.CaseSensitive)
		if err != nil {
			return false, fmt.Errorf("keyword regex: %w", err)
		}
		return re.MatchString(body), nil
	}
	if rule.CaseSensitive {
		return strings.Contains(body, rule.Pattern), nil
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(rule.Pattern)), nil
}

func (e *Engine) matchSender(rule model.FilterRule, sender string) (bool, error) {
	if rule.Pattern == "" || sender == "" {
		return false, nil
	}
	if rule.IsRegex {
		re, err := e.regex.get(rule.Pattern, rule.CaseSensitive)
		if err != nil {
			return false, fmt.Errorf("sender regex: %w", err)
		}
		return re.MatchString(sender), nil
	}

	pattern, s := rule.Pattern, sender
	if !rule.CaseSensitive {
		pattern, s = strings.ToLower(pattern), strings.ToLower(s)
	}
	if s == pattern || strings.Contains(s, pattern) {
		return true, nil
	}
	// "+90 555-111 22 33" style patterns against a compact sender
	p := compactNumber(pattern)
	return p != "" && strings.Contains(compactNumber(s), p), nil
}

func compactNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
}

func (e *Engine) matchTime(rule model.FilterRule, ts time.Time) (bool, error) {
	w, err := parseWindow(rule.Pattern)
	if err != nil {
		return false, err
	}
	if ts.IsZero() {
		ts = e.now()
	}
	return w.contains(ts.In(e.loc)), nil
}

var spamKeywords = []string{
	"congratulations",
	"winner",
	"you won",
	"you have won",
	"prize",
	"lottery",
	"jackpot",
	"free gift",
	"claim your",
	"click here",
	"act now",
	"limited time offer",
	"risk free",
	"100% free",
	"cash bonus",
}

const (
	minCapsLetters = 10
	maxCapsRatio   = 0.5
)

// matchSpam applies the built-in heuristics. The pattern may list extra
// comma-separated keywords.
func matchSpam(rule model.FilterRule, sender, body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range strings.Split(rule.Pattern, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	if isShortCode(sender) || hasDigitRun(sender, 4) {
		return true
	}
	return capsRatioExceeded(body)
}

func isShortCode(sender string) bool {
	if len(sender) < 4 || len(sender) > 6 {
		return false
	}
	for _, r := range sender {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// hasDigitRun reports n or more consecutive identical digits.
func hasDigitRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			run = 0
			continue
		}
		if r == prev && run > 0 {
			run++
		} else {
			run = 1
		}
		prev = r
		if run >= n {
			return true
		}
	}
	return false
}

func capsRatioExceeded(body string) bool {
	letters, upper := 0, 0
	for _, r := range body {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < minCapsLetters {
		return false
	}
	return float64(upper)/float64(letters) > maxCapsRatio
}

func (e *Engine) matchSIM(ctx context.Context, rule model.FilterRule, in Input) (bool, error) {
	if !in.hasSource() {
		return false, nil
	}
	pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
	if pattern == "" {
		return false, nil
	}

	if key, val, ok := strings.Cut(pattern, ":"); ok {
		switch strings.TrimSpace(key) {
		case "slot":
			n, err := nonNegative(val)
			if err != nil {
				return false, fmt.Errorf("sim pattern %q: %w", rule.Pattern, err)
			}
			return in.SourceSlot != model.UnknownEndpoint && in.SourceSlot == n, nil
		case "subscription", "sub":
			n, err := nonNegative(val)
			if err != nil {
				return false, fmt.Errorf("sim pattern %q: %w", rule.Pattern, err)
			}
			return in.SourceEndpointID != model.UnknownEndpoint && in.SourceEndpointID == n, nil
		case "sim":
			slot, err := simSlot(strings.TrimSpace(val))
			if err != nil {
				return false, fmt.Errorf("sim pattern %q: %w", rule.Pattern, err)
			}
			return in.SourceSlot != model.UnknownEndpoint && in.SourceSlot == slot, nil
		}
	}

	if e.endpoints == nil {
		return false, nil
	}
	eps, err := e.endpoints.Active(ctx)
	if err != nil {
		return false, fmt.Errorf("sim lookup: %w", err)
	}
	ep, ok := findSource(eps, in)
	if !ok {
		return false, nil
	}
	return strings.Contains(strings.ToLower(ep.Carrier), pattern) ||
		strings.Contains(strings.ToLower(ep.DisplayName), pattern), nil
}

func nonNegative(v string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("want a value >= 0, got %d", n)
	}
	return int32(n), nil
}

// simSlot maps "sim1" to slot 0, "sim2" to slot 1 and so on.
func simSlot(v string) (int32, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(v, "sim"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("want simN with N >= 1, got %q", v)
	}
	return int32(n - 1), nil
}

func findSource(eps []model.Endpoint, in Input) (model.Endpoint, bool) {
	if in.SourceEndpointID != model.UnknownEndpoint {
		for _, ep := range eps {
			if ep.SubscriptionID == in.SourceEndpointID {
				return ep, true
			}
		}
	}
	if in.SourceSlot != model.UnknownEndpoint {
		for _, ep := range eps {
			if ep.Slot == in.SourceSlot {
				return ep, true
			}
		}
	}
	return model.Endpoint{}, false
}
