package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

const (
	PresetStrict     = "strict"
	PresetStandard   = "standard"
	PresetGenerous   = "generous"
	PresetVeryStrict = "veryStrict"
	PresetPublic     = "public"
)

type Preset struct {
	Max    int
	Window time.Duration
}

var DefaultPresets = map[string]Preset{
	PresetStrict:     {Max: 10, Window: time.Minute},
	PresetStandard:   {Max: 30, Window: time.Minute},
	PresetGenerous:   {Max: 1000, Window: 15 * time.Minute},
	PresetVeryStrict: {Max: 5, Window: 15 * time.Minute},
	PresetPublic:     {Max: 100, Window: time.Minute},
}

// Limiters is a family of limiters over one store. The preset name is part
// of every key, so presets never share counters.
type Limiters struct {
	byName map[string]*Limiter
}

func NewLimiters(store Store, presets map[string]Preset) *Limiters {
	l := &Limiters{byName: make(map[string]*Limiter, len(presets))}
	for name, p := range presets {
		l.byName[name] = NewLimiter(name, p.Max, p.Window, store)
	}
	return l
}

func (l *Limiters) WithClock(now func() time.Time) *Limiters {
	for _, lim := range l.byName {
		lim.WithClock(now)
	}
	return l
}

// Get returns the named limiter; it panics on an unknown name since preset
// names are fixed at wiring time.
func (l *Limiters) Get(name string) *Limiter {
	lim, ok := l.byName[name]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown preset %q", name))
	}
	return lim
}

func (l *Limiters) Names() []string {
	names := make([]string, 0, len(l.byName))
	for name := range l.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
