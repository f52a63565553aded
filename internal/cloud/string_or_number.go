package cloud

import (
	"encoding/json"
	"strconv"
	"strings"
)

// StringOrNumber accepts JSON values like 123 or "123" and stores them as a
// string.
type StringOrNumber string

func (s *StringOrNumber) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}

	// If it's a JSON string: "123"
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = StringOrNumber(str)
		return nil
	}

	// Otherwise assume it's a number: 123
	*s = StringOrNumber(string(b))
	return nil
}

func (s StringOrNumber) String() string {
	return string(s)
}

// Int64 parses the value as an integer, truncating a fractional part.
// Returns 0 for empty or unparseable values.
func (s StringOrNumber) Int64() int64 {
	v := string(s)
	if v == "" {
		return 0
	}
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
