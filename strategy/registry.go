package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Params are free-form strategy settings, usually from the config file.
type Params map[string]any

// Decode copies params into the fields of out by their json tags.
func (p Params) Decode(out any) error {
	if len(p) == 0 {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

type Factory func(p Params) (Strategy, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a strategy constructible by name. Registering a name
// twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	key := normalize(name)
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("strategy: Register called twice for %q", name))
	}
	registry[key] = f
}

// New builds a registered strategy.
func New(name string, p Params) (Strategy, error) {
	mu.RLock()
	f, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(p)
}

// Registered reports whether name can be passed to New.
func Registered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[normalize(name)]
	return ok
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
