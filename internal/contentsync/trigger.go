package contentsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// MatchResult represents the result of matching a trigger against an event.
type MatchResult uint8

const (
	MatchResultUndefined MatchResult = iota
	Mismatch
	Match
)

var matchResultString = [...]string{
	MatchResultUndefined: "undefined",
	Mismatch:             "condition mismatch",
	Match:                "trigger matches",
}

func (m MatchResult) String() string {
	if int(m) > len(matchResultString)-1 {
		return fmt.Sprintf("unsupported MatchResult value: %d", m)
	}

	return matchResultString[m]
}

// Trigger decides if a sync runs for an event.
// A Trigger without a filter query matches every event.
type Trigger struct {
	filterQuery *gojq.Query
}

// NewTrigger parses jqQuery and returns a Trigger for it.
// If jqQuery is empty, the trigger matches all events.
func NewTrigger(jqQuery string) (*Trigger, error) {
	if strings.TrimSpace(jqQuery) == "" {
		return &Trigger{}, nil
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing filter query failed: %w", err)
	}

	return &Trigger{filterQuery: query}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match evaluates the filter query against the JSON event payload.
// The query must evaluate to exactly one boolean value.
func (t *Trigger) Match(ctx context.Context, eventJSON []byte) (MatchResult, error) {
	var evUn any

	if t.filterQuery == nil {
		return Match, nil
	}

	if len(eventJSON) == 0 {
		return MatchResultUndefined, errors.New("filter query is defined but the event payload is empty")
	}

	err := json.Unmarshal(eventJSON, &evUn)
	if err != nil {
		return MatchResultUndefined, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(t.filterQuery.RunWithContext(ctx, evUn))
	if len(errs) != 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned errors, query: %q, errors: %s", t.filterQuery.String(), errString(errs))
	}

	if len(result) == 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned 0 results, expected 1, query: %q", t.filterQuery.String())
	}

	if len(result) > 1 {
		return MatchResultUndefined, fmt.Errorf("json query returned multiple results, expected 1, query: %q, result: '%+v'", t.filterQuery.String(), result)
	}

	switch val := result[0].(type) {
	case bool:
		if val {
			return Match, nil
		}

		return Mismatch, nil

	default:
		return MatchResultUndefined, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			val, val, t.filterQuery.String(),
		)
	}
}

func (t *Trigger) String() string {
	if t.filterQuery == nil {
		return "<always>"
	}

	return t.filterQuery.String()
}
