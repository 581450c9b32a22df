package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Extra hält unbekannte JSON-Felder, damit ein PUT nichts verliert.
type Extra map[string]json.RawMessage

// decodeWithExtra dekodiert data in v und sammelt alle Felder, die nicht in known stehen.
func decodeWithExtra(data []byte, v any, known ...string) (Extra, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeWithExtra kodiert v und mischt die unbekannten Felder wieder hinein.
func encodeWithExtra(v any, extra Extra) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// isJSONString meldet, ob das (getrimmte) Roh-JSON ein String ist.
func isJSONString(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return strings.HasPrefix(s, `"`)
}

func isJSONArray(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return strings.HasPrefix(s, "[")
}

func isJSONNull(data []byte) bool {
	return strings.TrimSpace(string(data)) == "null"
}

// FlexFloat akzeptiert Zahlen und Zahlen-Strings ("52.37").
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		return nil
	}
	if isJSONString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}
