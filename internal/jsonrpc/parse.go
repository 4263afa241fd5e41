package jsonrpc

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ParseCallLine splits a line of the form `Method {"param": value}` into the
// method name and its parameters. The parameter object is optional.
func ParseCallLine(line string) (string, *Params, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, errors.New("empty call")
	}
	method, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		method, rest = line[:i], line[i+1:]
	}
	if strings.HasPrefix(method, "{") {
		return "", nil, errors.New("missing method name")
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return method, nil, nil
	}
	params := NewParams()
	if err := json.Unmarshal([]byte(rest), params); err != nil {
		return "", nil, errors.Wrapf(err, "invalid params for %s", method)
	}
	return method, params, nil
}
