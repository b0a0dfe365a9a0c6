package funnel

import (
	_ "embed"
	"time"
	_ "time/tzdata"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Default returns the built-in three-stage configuration.
func Default() *Config {
	cfg, err := ParseBytes(defaultsYAML)
	if err != nil {
		panic("funnel: bad built-in defaults: " + err.Error())
	}
	return cfg
}

// InZone is a convenience for callers that render times for contacts.
func (c *Config) InZone(t time.Time) time.Time {
	if c.Location == nil {
		return t
	}
	return t.In(c.Location)
}
