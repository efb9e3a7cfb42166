package patch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errRootPath = errors.New("path must reference a field")

// parsePointer splits a JSON pointer into unescaped reference tokens.
func parsePointer(p string) ([]string, error) {
	if p == "" {
		return nil, errRootPath
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("pointer %q must start with /", p)
	}
	parts := strings.Split(p[1:], "/")
	for i, part := range parts {
		if strings.Contains(strings.ReplaceAll(strings.ReplaceAll(part, "~0", ""), "~1", ""), "~") {
			return nil, fmt.Errorf("pointer %q has an invalid escape", p)
		}
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return parts, nil
}

// arrayIndex resolves token against an array of length n. With insert set the
// index may equal n and "-" addresses the end of the array.
func arrayIndex(token string, n int, insert bool) (int, error) {
	if token == "-" {
		if insert {
			return n, nil
		}
		return 0, errors.New(`"-" is only valid for add`)
	}
	if token == "" || (len(token) > 1 && token[0] == '0') {
		return 0, fmt.Errorf("invalid array index %q", token)
	}
	i, err := strconv.Atoi(token)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid array index %q", token)
	}
	limit := n - 1
	if insert {
		limit = n
	}
	if i > limit {
		return 0, fmt.Errorf("array index %d out of range", i)
	}
	return i, nil
}

func isPrefix(prefix, tokens []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if prefix[i] != tokens[i] {
			return false
		}
	}
	return true
}
