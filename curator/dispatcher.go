package curator

import (
	"context"
	"log"

	"curator_backend/models"
	"curator_backend/sources"
	"curator_backend/storage"
)

// Dispatcher walks the source registry in priority order until one source
// returns data. A source failure is recorded against its health row and the
// walk continues; a source reporting "no data" is skipped silently.
type Dispatcher struct {
	registry *sources.Registry
	gateway  storage.PersistenceGateway
}

// NewDispatcher wires the registry to the health store.
func NewDispatcher(registry *sources.Registry, gateway storage.PersistenceGateway) *Dispatcher {
	return &Dispatcher{registry: registry, gateway: gateway}
}

// Fetch tries each capable source in order and returns the first non-empty
// payload along with the name of the source that served it. When onlySource is
// set, only that source is consulted. ok is false when every candidate was
// exhausted without data.
func (d *Dispatcher) Fetch(ctx context.Context, resourceType sources.Capability, params sources.Params, onlySource string) (payload *sources.Payload, sourceName string, ok bool) {
	candidates := d.registry.WithCapability(resourceType)
	if onlySource != "" {
		candidates = nil
		if src, found := d.registry.Get(onlySource); found && src.Capabilities().Has(resourceType) {
			candidates = []sources.Source{src}
		}
	}

	for _, src := range candidates {
		result, err := src.GetResource(ctx, resourceType, params)
		if err != nil {
			log.Printf("Source %s failed fetching %s for %q: %v", src.Name(), resourceType, params.Symbol, err)
			if recordErr := d.gateway.RecordSourceError(ctx, src.Name(), err.Error()); recordErr != nil {
				log.Printf("Failed to record source error for %s: %v", src.Name(), recordErr)
			}
			continue
		}
		if result.Empty() {
			continue
		}
		if err := d.gateway.UpsertSourceHealth(ctx, src.Name(), models.SourceStatusActive); err != nil {
			log.Printf("Failed to update source health for %s: %v", src.Name(), err)
		}
		return result, src.Name(), true
	}

	return nil, "", false
}
