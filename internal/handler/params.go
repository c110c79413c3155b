package handler

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/bmcam/internal/config"
)

// StillParams are the options of an image trigger.
type StillParams struct {
	Resolution string        `mapstructure:"res"`
	Burst      int           `mapstructure:"burst"`
	Interval   time.Duration `mapstructure:"int"`
	Format     string        `mapstructure:"fmt"`
	Quality    int           `mapstructure:"q"`
	Send       bool          `mapstructure:"send"`
}

// VideoParams are the options of a video trigger.
type VideoParams struct {
	Resolution string        `mapstructure:"res"`
	Duration   time.Duration `mapstructure:"dur"`
	FPS        int           `mapstructure:"fps"`
	Bitrate    int           `mapstructure:"br"`
	HFlip      bool          `mapstructure:"hflip"`
	VFlip      bool          `mapstructure:"vflip"`
	Send       bool          `mapstructure:"send"`
}

// TriggerText strips an optional leading control byte, surrounding
// whitespace and one pair of matching quotes from a trigger payload.
func TriggerText(payload []byte) string {
	if len(payload) > 0 && payload[0] < 0x20 {
		payload = payload[1:]
	}
	s := strings.TrimSpace(strings.ToValidUTF8(string(payload), ""))
	if len(s) >= 2 && s[0] == s[len(s)-1] && (s[0] == '\'' || s[0] == '"') {
		s = s[1 : len(s)-1]
	}
	return s
}

// ParseTokens splits "k=v,k=v" into a map. A bare word is a resolution and
// the words 1, go and trigger mean "defaults".
func ParseTokens(s string) map[string]string {
	out := map[string]string{}
	switch s {
	case "", "1", "go", "trigger":
		return out
	}
	if !strings.ContainsAny(s, "=,") {
		out["res"] = s
		return out
	}
	for _, tok := range strings.Split(s, ",") {
		if k, v, ok := strings.Cut(tok, "="); ok {
			out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
	return out
}

func DefaultStillParams(d config.CameraDefaults) StillParams {
	return StillParams{
		Resolution: d.Resolution,
		Burst:      d.Burst,
		Interval:   d.Interval,
		Format:     d.Format,
		Quality:    d.Quality,
		Send:       d.Send,
	}
}

func DefaultVideoParams(d config.CameraDefaults) VideoParams {
	return VideoParams{
		Resolution: d.Resolution,
		Duration:   d.Duration,
		FPS:        d.FPS,
		Bitrate:    d.Bitrate,
		HFlip:      d.HFlip,
		VFlip:      d.VFlip,
		Send:       d.Send,
	}
}

// ParseStill overlays the payload's tokens on defaults.
func ParseStill(payload []byte, defaults StillParams) (StillParams, error) {
	p := defaults
	if err := decodeTokens(ParseTokens(TriggerText(payload)), &p); err != nil {
		return p, err
	}
	p.Burst = max(1, p.Burst)
	return p, nil
}

// ParseVideo overlays the payload's tokens on defaults.
func ParseVideo(payload []byte, defaults VideoParams) (VideoParams, error) {
	p := defaults
	err := decodeTokens(ParseTokens(TriggerText(payload)), &p)
	return p, err
}

func decodeTokens(tokens map[string]string, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(secondsHook, scaledIntHook, boolWordHook),
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(tokens); err != nil {
		return fmt.Errorf("trigger parameters: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook reads "5", "2.5", "5s" and "500ms" as durations; a bare
// number is seconds.
func secondsHook(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != durationType {
		return data, nil
	}
	s := strings.ToLower(strings.TrimSpace(data.(string)))
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// scaledIntHook reads integers with an optional k or m multiplier, as in
// br=3m.
func scaledIntHook(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Int || t == durationType {
		return data, nil
	}
	s := strings.ToLower(strings.TrimSpace(data.(string)))
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, s[:len(s)-1]
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", data)
	}
	return int(v * mult), nil
}

func boolWordHook(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "1", "true", "yes", "on", "y":
		return true, nil
	case "0", "false", "no", "off", "n", "":
		return false, nil
	}
	return nil, fmt.Errorf("invalid boolean %q", data)
}
