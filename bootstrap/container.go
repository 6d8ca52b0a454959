package bootstrap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrServiceNotFound   = errors.New("service not registered")
	ErrServiceRegistered = errors.New("service already registered")
	ErrCircularResolve   = errors.New("circular service resolution")
)

// DefaultContainer provides a simple dependency injection container
type DefaultContainer struct {
	factories map[string]ServiceFactory
	instances map[string]interface{}
	resolving map[string]bool
	mutex     sync.Mutex
}

// NewContainer creates a new dependency injection container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]interface{}),
		resolving: make(map[string]bool),
	}
}

// Register registers a service factory with the container
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("service factory cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, name)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance registers a service instance with the container
func (c *DefaultContainer) RegisterInstance(name string, instance interface{}) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if instance == nil {
		return fmt.Errorf("service instance cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.instances[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, name)
	}
	c.instances[name] = instance
	return nil
}

// Resolve resolves a service by name. Factories run without the lock
// held so they may resolve their own dependencies.
func (c *DefaultContainer) Resolve(name string) (interface{}, error) {
	c.mutex.Lock()
	if instance, exists := c.instances[name]; exists {
		c.mutex.Unlock()
		return instance, nil
	}
	factory, exists := c.factories[name]
	if !exists {
		c.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if c.resolving[name] {
		c.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCircularResolve, name)
	}
	c.resolving[name] = true
	c.mutex.Unlock()

	instance, err := factory(c)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}
	if existing, exists := c.instances[name]; exists {
		return existing, nil
	}
	c.instances[name] = instance
	return instance, nil
}

// Remove drops a cached instance
func (c *DefaultContainer) Remove(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.instances, name)
}

// Has checks if a service is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered service names
func (c *DefaultContainer) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	nameSet := make(map[string]struct{}, len(c.factories)+len(c.instances))
	for name := range c.factories {
		nameSet[name] = struct{}{}
	}
	for name := range c.instances {
		nameSet[name] = struct{}{}
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveAs resolves name and asserts it to T.
func ResolveAs[T any](c Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("service %s of type %T is not a %T", name, instance, zero)
	}
	return typed, nil
}
