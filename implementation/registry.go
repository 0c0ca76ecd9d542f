// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package implementation

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrEmptyReference     = errors.New("empty implementation reference")
	ErrNilImplementation  = errors.New("nil implementation")
	ErrDuplicateReference = errors.New("implementation reference already registered")
)

// Registry maps implementation references to implementations. Stored state
// only ever holds references, so every implementation that may become active
// must be registered
type Registry struct {
	impls map[string]Implementation
	mutex sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		impls: make(map[string]Implementation),
	}
}

// Register adds an implementation under ref
func (r *Registry) Register(ref string, impl Implementation) error {
	if ref == "" {
		return ErrEmptyReference
	}
	if impl == nil {
		return ErrNilImplementation
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.impls[ref]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
	}
	r.impls[ref] = impl
	return nil
}

// Get returns the implementation registered under ref
func (r *Registry) Get(ref string) (Implementation, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	impl, ok := r.impls[ref]
	return impl, ok
}

// Refs returns the registered references in sorted order
func (r *Registry) Refs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ret := make([]string, 0, len(r.impls))
	for ref := range r.impls {
		ret = append(ret, ref)
	}
	slices.Sort(ret)
	return ret
}
