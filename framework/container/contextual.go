package container

// When starts a contextual binding chain. concrete is the abstract or class
// name whose dependencies should be overridden.
//
//	c.When("PhotoController").Needs("Filesystem").Give(func(c *container.Container) any {
//	    return filesystem.NewS3(...)
//	})
func (c *Container) When(concrete string) *ContextualBuilder {
	return &ContextualBuilder{container: c, concrete: concrete}
}

// ContextualBuilder implements the fluent contextual binding API.
type ContextualBuilder struct {
	container *Container
	concrete  string
	needs     string
}

// Needs specifies which abstract the concrete type depends on.
func (b *ContextualBuilder) Needs(abstract string) *ContextualBuilder {
	b.needs = abstract
	return b
}

// Give provides the factory used when the concrete resolves the abstract
// named by Needs.
func (b *ContextualBuilder) Give(factory Factory) {
	c := b.container
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.contextual[b.concrete]; !ok {
		c.contextual[b.concrete] = make(map[string]Factory)
	}
	c.contextual[b.concrete][b.needs] = factory
}

// GiveValue is Give for a pre-built value.
//
//	c.When("PhotoController").Needs("storagePath").GiveValue("/tmp/photos")
func (b *ContextualBuilder) GiveValue(value any) {
	b.Give(func(_ *Container) any { return value })
}

// contextualFor returns the contextual factory registered for the frame's
// abstract or class, or nil. Parents are consulted after c.
func (c *Container) contextualFor(f frame, abstract string) Factory {
	if f.key == "" {
		return nil
	}
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		factory := lookupContextual(cc.contextual, f.key, abstract)
		if factory == nil && f.class != "" {
			factory = lookupContextual(cc.contextual, f.class, abstract)
		}
		cc.mu.RUnlock()
		if factory != nil {
			return factory
		}
	}
	return nil
}

func lookupContextual(m map[string]map[string]Factory, concrete, abstract string) Factory {
	if needs, ok := m[concrete]; ok {
		return needs[abstract]
	}
	return nil
}
