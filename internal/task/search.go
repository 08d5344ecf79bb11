package task

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError marks malformed search input so the transport layer can
// answer with a client error instead of a server failure.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search parameter %s: %s", e.Param, e.Reason)
}

// SearchParameters is the validated, immutable filter set for task selection.
// Raw request parameters are parsed exactly once; everything downstream takes
// this value.
type SearchParameters struct {
	Statuses    []Status
	ProjectID   *int64
	ChallengeID *int64
	Proximity   *int64
	Priority    *Priority
}

// EffectiveStatuses returns the explicit status filter, or the default
// actionable set when none was supplied.
func (p SearchParameters) EffectiveStatuses() []Status {
	if len(p.Statuses) > 0 {
		return p.Statuses
	}
	return DefaultStatuses()
}

// MatchesStatus reports whether a status passes the filter.
func (p SearchParameters) MatchesStatus(s Status) bool {
	for _, allowed := range p.EffectiveStatuses() {
		if s == allowed {
			return true
		}
	}
	return false
}

// ParseSearchParameters builds SearchParameters from query values.
// Malformed input is rejected, with one deliberate exception: an absent or
// negative proximity id means "no proximity constraint" and is converted to
// nil here rather than carried through selection as a sentinel.
func ParseSearchParameters(values url.Values) (SearchParameters, error) {
	var params SearchParameters

	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			code, err := strconv.Atoi(tok)
			if err != nil {
				return SearchParameters{}, &ValidationError{Param: "status", Reason: fmt.Sprintf("non-numeric status token %q", tok)}
			}
			status := Status(code)
			if !status.Valid() {
				return SearchParameters{}, &ValidationError{Param: "status", Reason: fmt.Sprintf("unknown status code %d", code)}
			}
			params.Statuses = append(params.Statuses, status)
		}
	}

	projectID, err := optionalID(values, "project")
	if err != nil {
		return SearchParameters{}, err
	}
	params.ProjectID = projectID

	challengeID, err := optionalID(values, "challenge")
	if err != nil {
		return SearchParameters{}, err
	}
	params.ChallengeID = challengeID

	if raw := strings.TrimSpace(values.Get("proximity")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return SearchParameters{}, &ValidationError{Param: "proximity", Reason: "must be an integer task id"}
		}
		if id >= 0 {
			params.Proximity = &id
		}
	}

	if raw := strings.TrimSpace(values.Get("priority")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return SearchParameters{}, &ValidationError{Param: "priority", Reason: "must be an integer priority code"}
		}
		priority := Priority(code)
		if !priority.Valid() {
			return SearchParameters{}, &ValidationError{Param: "priority", Reason: fmt.Sprintf("unknown priority code %d", code)}
		}
		params.Priority = &priority
	}

	return params, nil
}

func optionalID(values url.Values, key string) (*int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &ValidationError{Param: key, Reason: "must be an integer id"}
	}
	if id < 0 {
		return nil, &ValidationError{Param: key, Reason: "must not be negative"}
	}
	return &id, nil
}
