package captoken

import (
	"fmt"
	"strings"
	"time"
)

// Authorizer evaluates a token's checks against the verifier's context.
// Use it in two phases: Allow (or not), then Authorize, then Query.
type Authorizer struct {
	facts      []Fact
	checks     [][]Check
	now        time.Time
	allow      bool
	authorized bool
}

// Authorizer returns an authorizer loaded with the token's authority
// facts, the checks of every block, and the ambient time.
func (t *Token) Authorizer(now time.Time) *Authorizer {
	a := &Authorizer{
		facts:  t.AuthorityFacts(),
		checks: make([][]Check, len(t.blocks)),
		now:    now,
	}
	for i, block := range t.blocks {
		a.checks[i] = block.Checks
	}
	a.facts = append(a.facts, NewFact("time", fmt.Sprint(now.Unix())))
	return a
}

// Allow adds the unconditional allow policy. The token's own checks
// remain mandatory.
func (a *Authorizer) Allow() {
	a.allow = true
}

// Authorize runs every check of every block. It fails when any check
// fails or when no allow policy was added.
func (a *Authorizer) Authorize() error {
	a.authorized = false
	for blockIndex, checks := range a.checks {
		for checkIndex, check := range checks {
			if err := a.evaluate(check); err != nil {
				return fmt.Errorf("block %d check %d: %w", blockIndex, checkIndex, err)
			}
		}
	}
	if !a.allow {
		return ErrNoPolicy
	}
	a.authorized = true
	return nil
}

func (a *Authorizer) evaluate(check Check) error {
	switch check.Kind {
	case CheckTimeBefore:
		if a.now.IsZero() || a.now.Unix() >= check.Before {
			return ErrCheckFailed
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCheck, check.Kind)
	}
}

// Query evaluates the rule head($x...) <- body($x...) and returns the
// distinct derived facts. It only answers after Authorize succeeded.
func (a *Authorizer) Query(head, body string) ([]Fact, error) {
	if !a.authorized {
		return nil, ErrNotAuthorized
	}

	seen := make(map[string]struct{})
	var results []Fact
	for _, fact := range a.facts {
		if fact.Name != body {
			continue
		}
		key := strings.Join(fact.Terms, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, NewFact(head, fact.Terms...))
	}
	return results, nil
}
