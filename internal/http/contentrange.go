package http

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseContentRange parses a Content-Range header value of the form
// "bytes start-end/total". Total is -1 when the server sends "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range unit: %q", header)
	}

	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if start < 0 || end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range bounds: %q", header)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
		if end >= total {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range bounds: %q", header)
		}
	}

	return start, end, total, nil
}
