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

// Signer is the host oracle telling whether the caller identity actually
// signed the current request
type Signer interface {
	IsSigner(identity string) bool
}

// SignerFunc adapts a function to the Signer interface
type SignerFunc func(identity string) bool

func (f SignerFunc) IsSigner(identity string) bool {
	return f(identity)
}

// TrustAllSigners treats every identity as a valid signer. It is used when the
// host authenticates callers before they reach the proxy
var TrustAllSigners Signer = SignerFunc(func(string) bool { return true })
