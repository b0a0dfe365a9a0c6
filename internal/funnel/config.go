package funnel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/stage"
)

// Step is one message of a funnel plan. Without At, the due time is
// enrollment time plus Offset. With At, it is At plus Offset regardless of
// when the contact enrolled.
type Step struct {
	Offset  time.Duration
	At      *time.Time
	Payload model.Payload
}

func (s Step) DueAt(enrolledAt time.Time) time.Time {
	if s.At != nil {
		return s.At.Add(s.Offset)
	}
	return enrolledAt.Add(s.Offset)
}

type Funnel struct {
	Label   string
	Stage   stage.ID
	Segment string
	// Button is the caption of the opt-in button in the chat menu.
	Button string
	Plan   []Step
}

type Config struct {
	Location     *time.Location
	Windows      []stage.Window
	Funnels      []Funnel
	FallbackText string
}

func (c *Config) Funnel(label string) (Funnel, bool) {
	label = normalizeLabel(label)
	for _, f := range c.Funnels {
		if f.Label == label {
			return f, true
		}
	}
	return Funnel{}, false
}

type rawConfig struct {
	Timezone     string      `yaml:"timezone"`
	FallbackText string      `yaml:"fallback_text"`
	Stages       []rawStage  `yaml:"stages"`
	Funnels      []rawFunnel `yaml:"funnels"`
}

type rawStage struct {
	ID    string `yaml:"id"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type rawFunnel struct {
	Label   string    `yaml:"label"`
	Stage   string    `yaml:"stage"`
	Segment string    `yaml:"segment"`
	Button  string    `yaml:"button"`
	Plan    []rawStep `yaml:"plan"`
}

type rawStep struct {
	Offset string    `yaml:"offset"`
	At     string    `yaml:"at"`
	Text   string    `yaml:"text"`
	Media  *rawMedia `yaml:"media"`
}

type rawMedia struct {
	Kind    string `yaml:"kind"`
	Ref     string `yaml:"ref"`
	Caption string `yaml:"caption"`
}

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open funnels file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads a funnels document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	var raw rawConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	return raw.build()
}

func ParseBytes(b []byte) (*Config, error) {
	return Parse(bytes.NewReader(b))
}

func (raw rawConfig) build() (*Config, error) {
	tz := strings.TrimSpace(raw.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}

	cfg := &Config{Location: loc, FallbackText: raw.FallbackText}

	stages := map[stage.ID]bool{}
	for i, rs := range raw.Stages {
		start, err := parseTime(rs.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("stages[%d].start: %w", i, err)
		}
		end, err := parseTime(rs.End, loc)
		if err != nil {
			return nil, fmt.Errorf("stages[%d].end: %w", i, err)
		}
		id := stage.ID(strings.TrimSpace(rs.ID))
		cfg.Windows = append(cfg.Windows, stage.Window{Stage: id, Start: start, End: end})
		stages[id] = true
	}
	if err := stage.ValidateWindows(cfg.Windows); err != nil {
		return nil, &model.ValidationError{Field: "stages", Reason: err.Error()}
	}

	seen := map[string]bool{}
	for i, rf := range raw.Funnels {
		f, err := rf.build(loc)
		if err != nil {
			return nil, fmt.Errorf("funnels[%d]: %w", i, err)
		}
		if seen[f.Label] {
			return nil, &model.ValidationError{Field: "funnel label", Reason: "duplicate " + f.Label}
		}
		if !stages[f.Stage] {
			return nil, &model.ValidationError{Field: "funnel stage", Reason: fmt.Sprintf("funnel %s refers to unknown stage %q", f.Label, f.Stage)}
		}
		seen[f.Label] = true
		cfg.Funnels = append(cfg.Funnels, f)
	}

	return cfg, nil
}

func (rf rawFunnel) build(loc *time.Location) (Funnel, error) {
	f := Funnel{
		Label:   normalizeLabel(rf.Label),
		Stage:   stage.ID(strings.TrimSpace(rf.Stage)),
		Segment: strings.TrimSpace(rf.Segment),
		Button:  rf.Button,
	}
	if f.Label == "" {
		return f, &model.ValidationError{Field: "funnel label", Reason: "label is required"}
	}
	if f.Segment == "" {
		f.Segment = f.Label
	}
	if f.Button == "" {
		f.Button = f.Label
	}

	for i, rs := range rf.Plan {
		step, err := rs.build(loc)
		if err != nil {
			return f, fmt.Errorf("%s plan[%d]: %w", f.Label, i, err)
		}
		f.Plan = append(f.Plan, step)
	}
	return f, nil
}

func (rs rawStep) build(loc *time.Location) (Step, error) {
	var step Step

	off, err := ParseOffset(rs.Offset)
	if err != nil {
		return step, err
	}
	step.Offset = off

	if strings.TrimSpace(rs.At) != "" {
		at, err := parseTime(rs.At, loc)
		if err != nil {
			return step, err
		}
		step.At = &at
	} else if off < 0 {
		return step, &model.ValidationError{Field: "offset", Reason: "relative offset must not be negative"}
	}

	if rs.Media != nil {
		kind, err := model.ParseMediaKind(rs.Media.Kind)
		if err != nil {
			return step, err
		}
		caption := rs.Media.Caption
		if caption == "" {
			caption = rs.Text
		}
		step.Payload = model.Media{Caption: caption, Ref: rs.Media.Ref, Kind: kind}
	} else {
		step.Payload = model.Text{Body: rs.Text}
	}
	if err := step.Payload.Validate(); err != nil {
		return step, err
	}
	return step, nil
}

var dayPrefix = regexp.MustCompile(`^([+-]?)(\d+)d(.*)$`)

// ParseOffset accepts Go durations plus a leading day count: "0", "+0",
// "90s", "2d", "1d12h", "-1h".
func ParseOffset(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "0" || s == "+0" || s == "-0" {
		return 0, nil
	}

	m := dayPrefix.FindStringSubmatch(s)
	if m == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, &model.ValidationError{Field: "offset", Reason: err.Error()}
		}
		return d, nil
	}

	days, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, &model.ValidationError{Field: "offset", Reason: err.Error()}
	}
	d := time.Duration(days) * 24 * time.Hour
	if rest := m[3]; rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil || extra < 0 {
			return 0, &model.ValidationError{Field: "offset", Reason: "bad offset " + raw}
		}
		d += extra
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &model.ValidationError{Field: "time", Reason: "time is required"}
	}
	return model.ParseDueTime(s, loc, time.Time{})
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
