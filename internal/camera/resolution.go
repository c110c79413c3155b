package camera

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

var presets = map[string]Resolution{
	"12mp":  {4056, 3040},
	"8mp":   {3264, 2448},
	"5mp":   {2592, 1944},
	"4mp":   {2464, 1848},
	"1080p": {1920, 1080},
	"720p":  {1280, 720},
	"vga":   {640, 480},
}

// ParseResolution accepts a preset name (720p, 12MP, VGA, ...) or WxH.
func ParseResolution(s string) (Resolution, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if r, ok := presets[key]; ok {
		return r, nil
	}
	if w, h, ok := strings.Cut(key, "x"); ok {
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if err1 == nil && err2 == nil && wi > 0 && hi > 0 {
			return Resolution{wi, hi}, nil
		}
	}
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return Resolution{}, fmt.Errorf("unknown resolution %q, want WxH or one of %s", s, strings.Join(names, ", "))
}
