package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
)

// Dependency is an external package a generated program declares.
type Dependency struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty" msgpack:"version,omitempty"`
}

// String renders name@version, or name when unversioned.
func (d Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

// Program is generated source plus its dependency manifest.
type Program struct {
	Code         string       `json:"code"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Checksum returns the content hash of the program code.
func (p Program) Checksum() string { return CodeChecksum(p.Code) }

// HasDependencies reports whether the program must run in the worker sandbox.
func (p Program) HasDependencies() bool { return len(p.Dependencies) > 0 }

// EnvironmentID returns the environment id of the program's dependency set.
func (p Program) EnvironmentID() string { return EnvironmentID(p.Dependencies) }

// CodeChecksum returns the hex sha256 of code.
func CodeChecksum(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// EnvironmentID hashes a dependency set independent of declaration order.
// An empty set has the empty id.
func EnvironmentID(deps []Dependency) string {
	if len(deps) == 0 {
		return ""
	}
	lines := make([]string, 0, len(deps))
	for _, d := range deps {
		lines = append(lines, d.String())
	}
	slices.Sort(lines)
	lines = slices.Compact(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:8])
}

// Contract is the optional deliverable contract for a method. The engine
// reads it but never mutates it.
type Contract struct {
	Purpose       string       `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Deliverable   *Deliverable `json:"deliverable,omitempty" yaml:"deliverable,omitempty"`
	Acceptance    []string     `json:"acceptance,omitempty" yaml:"acceptance,omitempty"`
	FailurePolicy string       `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
}

// Deliverable constrains the value of an ok Outcome.
type Deliverable struct {
	// Type is one of object, array, string, number, integer, boolean, any.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Required lists keys an object deliverable must carry.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
	// Constraints holds machine-checkable properties such as min_items.
	Constraints map[string]any `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Fingerprint hashes the contract. A nil contract has a stable fingerprint.
func (c *Contract) Fingerprint() string {
	// encoding/json sorts map keys, so equal contracts hash equally.
	data, err := json.Marshal(c)
	if err != nil {
		data = []byte("unencodable")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
