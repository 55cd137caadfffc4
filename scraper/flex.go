package scraper

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes a JSON string or number into a string. Marketplace APIs
// are inconsistent about quoting ids and prices.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int64 parses the value as a whole number of won, truncating any fraction.
func (f FlexString) Int64() (int64, bool) {
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0, false
	}
	return int64(v), true
}
