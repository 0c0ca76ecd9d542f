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

package safety

import (
	"github.com/blinklabs-io/proxyguard/implementation"
)

// Descriptor is what the validator knows about an implementation
type Descriptor struct {
	Ref           string
	StateFields   []string
	Compatibility implementation.Compatibility
	SchemaVersion uint32
}

// DescriptorOf builds a descriptor from an implementation's capabilities
func DescriptorOf(ref string, impl implementation.Implementation) Descriptor {
	return Descriptor{
		Ref:           ref,
		SchemaVersion: impl.SchemaVersion(),
		Compatibility: implementation.CompatibilityOf(impl),
		StateFields:   implementation.StateFieldsOf(impl),
	}
}
