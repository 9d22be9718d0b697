// Copyright 2025 AxonFlow
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

package types

import "testing"

func TestResolutionPolicy_String(t *testing.T) {
	tests := []struct {
		policy ResolutionPolicy
		want   string
	}{
		{PolicyAny, "ANY"},
		{PolicyDefault, "DEFAULT"},
		{PolicyStrict, "STRICT"},
		{ResolutionPolicy("custom"), "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.policy.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolutionPolicy_IsValid(t *testing.T) {
	tests := []struct {
		policy ResolutionPolicy
		valid  bool
	}{
		{PolicyAny, true},
		{PolicyDefault, true},
		{PolicyStrict, true},
		{ResolutionPolicy("invalid"), false},
		{ResolutionPolicy(""), false},
		{ResolutionPolicy("strict"), false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			if got := tt.policy.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseResolutionPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    ResolutionPolicy
		wantErr bool
	}{
		{"ANY", PolicyAny, false},
		{"default", PolicyDefault, false},
		{"  Strict ", PolicyStrict, false},
		{"", "", true},
		{"RANDOM", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseResolutionPolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolutionPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseResolutionPolicy(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
