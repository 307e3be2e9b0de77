package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
)

// Locator holds the providers and processors that operations reference by name
type Locator struct {
	providers  map[string]Provider
	processors map[string]Processor
	resolvers  map[string]Resolver
	mu         sync.RWMutex
}

// NewLocator creates an empty locator
func NewLocator() *Locator {
	return &Locator{
		providers:  make(map[string]Provider),
		processors: make(map[string]Processor),
		resolvers:  make(map[string]Resolver),
	}
}

// RegisterProvider registers a provider under a service name
func (l *Locator) RegisterProvider(name string, p Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.providers[name] = p
}

// RegisterProcessor registers a processor under a service name
func (l *Locator) RegisterProcessor(name string, p Processor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processors[name] = p
}

// RegisterResolver registers a GraphQL resolver under a service name
func (l *Locator) RegisterResolver(name string, r Resolver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolvers[name] = r
}

// Resolver returns the resolver registered under name
func (l *Locator) Resolver(name string) (Resolver, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.resolvers[name]
	return r, ok
}

// Provider returns the provider registered under name
func (l *Locator) Provider(name string) (Provider, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.providers[name]
	return p, ok
}

// Processor returns the processor registered under name
func (l *Locator) Processor(name string) (Processor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.processors[name]
	return p, ok
}

// ProviderNames returns the registered provider names, sorted
func (l *Locator) ProviderNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.providers))
	for name := range l.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallableProvider dispatches to the provider named by the operation.
type CallableProvider struct {
	locator *Locator
}

// NewCallableProvider creates the dispatching provider
func NewCallableProvider(locator *Locator) *CallableProvider {
	return &CallableProvider{locator: locator}
}

// Provide implements Provider
func (p *CallableProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
	name := op.Provider()
	if name == "" {
		return nil, Runtime("Provider not found on operation %q", op.Name())
	}
	provider, ok := p.locator.Provider(name)
	if !ok {
		return nil, Runtime("Provider %q not found on operation %q", name, op.Name())
	}
	return provider.Provide(ctx, op, uriVariables, sc)
}

// CallableProcessor dispatches to the processor named by the operation.
// Operations without a processor return the data unchanged.
type CallableProcessor struct {
	locator *Locator
}

// NewCallableProcessor creates the dispatching processor
func NewCallableProcessor(locator *Locator) *CallableProcessor {
	return &CallableProcessor{locator: locator}
}

// Process implements Processor
func (p *CallableProcessor) Process(ctx context.Context, data any, op *metadata.Operation, uriVariables *identifier.Values, sc *Context) (any, error) {
	name := op.Processor()
	if name == "" {
		return data, nil
	}
	processor, ok := p.locator.Processor(name)
	if !ok {
		return nil, Runtime("Processor %q not found on operation %q", name, op.Name())
	}
	out, err := processor.Process(ctx, data, op, uriVariables, sc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
