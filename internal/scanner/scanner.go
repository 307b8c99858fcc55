package scanner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"ArxivMind/internal/domain"
)

// ErrUnknownScanner is returned when a site names an unregistered strategy.
var ErrUnknownScanner = errors.New("unknown scanner")

// Category describes a concrete section endpoint provided by config.
type Category struct {
	Name string
	URL  string
}

// Request carries all parameters required to execute a scan.
type Request struct {
	Topic      string
	MaxResults int
	SiteName   string
	Categories []Category
	Options    map[string]string
}

// Scanner captures a single catalog strategy (export API, listing pages, etc.).
// Scan yields candidates newest first and stops after req.MaxResults.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) iter.Seq2[domain.Candidate, error]
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name. Unknown names wrap ErrUnknownScanner
// and list what is registered.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownScanner, name, r.Names())
}

// Names lists registered strategies in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
