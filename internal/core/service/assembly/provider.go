package assembly

import (
	"context"
	"strings"
	"sync"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

// recordIDPlaceholder is substituted into a template's query with the
// soql-quoted driving record id.
const recordIDPlaceholder = ":recordId"

// SOQLProvider is the default data driver: it executes the template's query
// against the record store with the driving record id bound in.
type SOQLProvider struct {
	store port.RecordStore
}

func NewSOQLProvider(store port.RecordStore) *SOQLProvider {
	return &SOQLProvider{store: store}
}

// Fetch runs the template query. One row becomes the data tree directly;
// multiple rows are wrapped under a "records" key.
func (p *SOQLProvider) Fetch(ctx context.Context, tpl *entity.Template, recordID string) (map[string]any, error) {
	if tpl.Query == "" {
		return nil, entity.NewError(entity.KindTemplateInvalid, "template %s has no query", tpl.ID)
	}
	soql := strings.ReplaceAll(tpl.Query, recordIDPlaceholder, soqlQuote(recordID))

	rows, err := p.store.Query(ctx, soql)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return rows[0], nil
	default:
		items := make([]any, len(rows))
		for i, row := range rows {
			items[i] = row
		}
		return map[string]any{"records": items}, nil
	}
}

func soqlQuote(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
	return "'" + escaped + "'"
}

// Registry resolves named custom data providers. Registration happens at
// bootstrap; resolution is read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]port.DataProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]port.DataProvider)}
}

func (r *Registry) Register(name string, p port.DataProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Resolve(name string) (port.DataProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}
