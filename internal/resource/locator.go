package resource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NoVersion is the version of an ID parsed from a location without query.
const NoVersion = -1

// ID identifies one version of a stored resource.
type ID struct {
	ID      string
	Version int
}

// String renders the ID the way the service addresses it: "<id>?version=<n>".
func (id ID) String() string {
	if id.Version == NoVersion {
		return id.ID
	}
	return fmt.Sprintf("%s?version=%d", id.ID, id.Version)
}

// Next returns the ID expected after one successful mutation.
func (id ID) Next() ID {
	return ID{ID: id.ID, Version: id.Version + 1}
}

// IsZero reports whether no resource has been identified yet.
func (id ID) IsZero() bool {
	return id.ID == ""
}

// ErrMalformedLocation matches every *MalformedLocationError via errors.Is.
var ErrMalformedLocation = errors.New("malformed location")

// MalformedLocationError reports a Location that cannot be parsed into an ID.
type MalformedLocationError struct {
	Location string
	Reason   string
}

func (e *MalformedLocationError) Error() string {
	return fmt.Sprintf("malformed location %q: %s", e.Location, e.Reason)
}

func (e *MalformedLocationError) Is(target error) bool {
	return target == ErrMalformedLocation
}

// ParseLocation extracts the resource ID and version from a Location header
// value such as "eddi://ai.labs.behavior/behaviorstore/behaviorsets/<id>?version=1".
//
// A single trailing slash is ignored. The id is the last path segment up to
// the first '?'. The version is taken from the first query pair; a location
// without query (or with an empty one) yields NoVersion.
func ParseLocation(location string) (ID, error) {
	trimmed := strings.TrimSuffix(location, "/")

	segment := trimmed
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		segment = trimmed[i+1:]
	}
	id, _, _ := strings.Cut(segment, "?")
	if id == "" {
		return ID{}, &MalformedLocationError{Location: location, Reason: "path contains no id segment"}
	}

	_, query, hasQuery := strings.Cut(trimmed, "?")
	if !hasQuery || query == "" {
		return ID{ID: id, Version: NoVersion}, nil
	}

	pair, _, _ := strings.Cut(query, "&")
	_, raw, ok := strings.Cut(pair, "=")
	if !ok {
		return ID{}, &MalformedLocationError{Location: location, Reason: fmt.Sprintf("query %q has no value", pair)}
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return ID{}, &MalformedLocationError{Location: location, Reason: fmt.Sprintf("version %q is not numeric", raw)}
	}
	return ID{ID: id, Version: version}, nil
}
