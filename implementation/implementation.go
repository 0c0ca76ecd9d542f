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

// Package implementation defines the capability interfaces that a proxied
// service implementation exposes to the upgrade machinery, and the registry
// that resolves stored implementation references.
package implementation

import (
	"context"
	"log/slog"
	"slices"
)

// StateStore is the persistent key/value state of the proxied service. All
// reads and writes happen inside the transaction of the current operation
type StateStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Call is an opaque request forwarded to the active implementation
type Call struct {
	Function string
	Caller   string
	Args     []byte
	// Items lists the migration item indexes that the call reads or writes.
	// Pending lazily migrated items are transformed before the call runs
	Items []uint64
}

// Implementation is the required interface of every proxied implementation
type Implementation interface {
	SchemaVersion() uint32
	Invoke(ctx context.Context, state StateStore, call Call) (any, error)
}

// Compatibility is the optional compatibility metadata of an implementation
type Compatibility struct {
	BreakingChanges      []string
	DeprecatedFeatures   []string
	AffectedFields       []string
	TargetSchemaVersion  uint32
	MinCompatibleVersion uint32
	RequiresMigration    bool
}

type CompatibilityProvider interface {
	CompatibilityInfo() Compatibility
}

// MigrationContext describes one unit of migration work. Items in the range
// [Start, End) must be transformed
type MigrationContext struct {
	State       StateStore
	Logger      *slog.Logger
	Strategy    string
	// Result is an optional payload describing the work done. It becomes the
	// checkpoint data of the batch
	Result      []byte
	MigrationID uint64
	Start       uint64
	End         uint64
	FromVersion uint32
	ToVersion   uint32
	Batch       uint32
}

type Migrator interface {
	Migrate(ctx context.Context, mctx *MigrationContext) error
}

// StateDeclarer lists the state key prefixes owned by an implementation.
// Implementations that don't declare fields own the whole state namespace
type StateDeclarer interface {
	StateFields() []string
}

// ItemCounter reports how many items a migration into this implementation
// has to transform
type ItemCounter interface {
	MigrationItems(ctx context.Context, state StateStore) (uint64, error)
}

// ItemResolver derives the migration item indexes that a call reads or
// writes. They are touched in addition to the items the call lists
type ItemResolver interface {
	ItemsOf(call Call) []uint64
}

// ItemsOf returns the items listed by call together with those derived by
// impl, sorted and without duplicates
func ItemsOf(impl Implementation, call Call) []uint64 {
	ret := slices.Clone(call.Items)
	if resolver, ok := impl.(ItemResolver); ok {
		ret = append(ret, resolver.ItemsOf(call)...)
	}
	slices.Sort(ret)
	return slices.Compact(ret)
}

// CompatibilityOf returns the compatibility metadata of impl. Implementations
// without metadata read any older schema and target their own version
func CompatibilityOf(impl Implementation) Compatibility {
	if provider, ok := impl.(CompatibilityProvider); ok {
		ret := provider.CompatibilityInfo()
		if ret.TargetSchemaVersion == 0 {
			ret.TargetSchemaVersion = impl.SchemaVersion()
		}
		return ret
	}
	return Compatibility{
		TargetSchemaVersion:  impl.SchemaVersion(),
		MinCompatibleVersion: 1,
	}
}

// StateFieldsOf returns the declared state prefixes of impl, or nil for the
// whole namespace
func StateFieldsOf(impl Implementation) []string {
	if declarer, ok := impl.(StateDeclarer); ok {
		return declarer.StateFields()
	}
	return nil
}
