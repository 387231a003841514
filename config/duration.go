package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can use "30s" / "15m" strings.
type Duration struct {
	time.Duration
}

// Dur is a convenience constructor used by DefaultConfig.
func Dur(d time.Duration) Duration {
	return Duration{d}
}

// MarshalJSON implements the json.Marshaler interface
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface. Accepts either a
// duration string ("24h") or a bare number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case string:
		duration, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = duration
	case float64:
		d.Duration = time.Duration(value) * time.Second
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}

	return nil
}
