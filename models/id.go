package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque identifier. Backends hand out both numeric and string
// ids, so decoding accepts either and encoding always writes a string.
type ID string

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: expected string or number, got %s", b)
	}
	*id = ID(n.String())
	return nil
}
