package http

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PathIDParser resolves a target id from a URL path segment captured by
// the router. The source is the raw string argument; anything non-numeric
// is unresolvable and the check denies.
type PathIDParser struct{}

func (PathIDParser) TargetID(_ context.Context, source any) (int64, bool, error) {
	raw, ok := source.(string)
	if !ok || raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// CSVIDsParser resolves the full target id set from a comma-separated
// string argument, for operations spanning multiple targets.
type CSVIDsParser struct{}

func (CSVIDsParser) TargetIDs(_ context.Context, source any) ([]int64, error) {
	raw, ok := source.(string)
	if !ok || raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("target id %q is not numeric: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
