package util

import (
	"bytes"
	"encoding/json"
)

// JsonString generate json string for an object
func JsonString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseJson parse json string to an object, numbers are kept as json.Number
func ParseJson(jsonStr string, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewBufferString(jsonStr))
	decoder.UseNumber()
	return decoder.Decode(v)
}
