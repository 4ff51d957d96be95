package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Data types understood by Decode.
const (
	DataTypeJSON  = "json"
	DataTypeJSONP = "jsonp"
	DataTypeText  = "text"
)

// Decode turns a response body into the raw value handed to the engine.
// JSON objects decode to map[string]any, text bodies to string.
func Decode(dataType string, body []byte) (any, error) {
	switch dataType {
	case DataTypeText:
		return string(body), nil
	case DataTypeJSONP:
		payload, err := unwrapJSONP(body)
		if err != nil {
			return nil, err
		}
		return decodeJSON(payload)
	default:
		return decodeJSON(body)
	}
}

func decodeJSON(body []byte) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// unwrapJSONP strips the callback padding: cb({...}); becomes {...}.
// Bodies without padding are returned unchanged.
func unwrapJSONP(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	trimmed = bytes.TrimSuffix(trimmed, []byte(";"))

	open := bytes.IndexByte(trimmed, '(')
	if open < 0 || len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed, nil
	}

	if !bytes.HasSuffix(trimmed, []byte(")")) {
		return nil, fmt.Errorf("decode jsonp: unterminated callback")
	}

	return trimmed[open+1 : len(trimmed)-1], nil
}
