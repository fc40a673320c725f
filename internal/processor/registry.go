package processor

import (
	"sync"

	"github.com/tendant/simple-proxyprep/internal/img"
)

var registry = struct {
	sync.Mutex
	instances map[*Processor]struct{}
	shared    *Processor
	factory   func() *Processor
}{
	instances: make(map[*Processor]struct{}),
}

func register(p *Processor) {
	registry.Lock()
	defer registry.Unlock()
	registry.instances[p] = struct{}{}
}

func unregister(p *Processor) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.instances, p)
	if registry.shared == p {
		registry.shared = nil
	}
}

// SetSharedFactory sets how Shared builds the process-wide processor. It only
// affects instances built after the call.
func SetSharedFactory(fn func() *Processor) {
	registry.Lock()
	defer registry.Unlock()
	registry.factory = fn
}

// Shared returns the process-wide processor, building it on first use or
// after it was destroyed.
func Shared() *Processor {
	registry.Lock()
	if registry.shared != nil {
		p := registry.shared
		registry.Unlock()
		return p
	}
	factory := registry.factory
	registry.Unlock()

	var p *Processor
	if factory != nil {
		p = factory()
	} else {
		p = New(img.NewRenderer(nil, nil))
	}

	registry.Lock()
	if registry.shared == nil {
		registry.shared = p
		registry.Unlock()
		return p
	}
	// lost a race with another caller
	winner := registry.shared
	registry.Unlock()
	p.Destroy()
	return winner
}

// DestroyAll destroys every processor created by New, including the shared one.
func DestroyAll() {
	registry.Lock()
	all := make([]*Processor, 0, len(registry.instances))
	for p := range registry.instances {
		all = append(all, p)
	}
	registry.Unlock()

	for _, p := range all {
		p.Destroy()
	}
}
