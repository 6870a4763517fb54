package indicator

import (
	"sort"
	"sync"
)

// registry maps indicator names to shared instances. Indicators carry no
// per-stream data (that lives in State values), so one instance serves
// every caller.
var registry = struct {
	sync.RWMutex
	byName map[string]Indicator
}{byName: make(map[string]Indicator)}

// Register makes an indicator available under its Name. A later
// registration replaces an earlier one.
func Register(ind Indicator) {
	registry.Lock()
	defer registry.Unlock()
	registry.byName[ind.Name()] = ind
}

// Lookup returns the indicator registered under name.
func Lookup(name string) (Indicator, bool) {
	registry.RLock()
	defer registry.RUnlock()
	ind, ok := registry.byName[name]
	return ind, ok
}

// Names returns all registered indicator names, sorted.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.byName))
	for n := range registry.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(NewSMA())
	Register(NewWMA())
	Register(NewEMA())
	Register(NewSMMA())
	Register(NewRSI())
	Register(NewMACD())
	Register(NewBollinger())
	Register(NewATR())
	Register(NewOBV())
}
