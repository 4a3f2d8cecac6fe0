package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/kiln/iox"
)

// RegistryEntry is one generated tool in the registry file.
type RegistryEntry struct {
	Role      string    `json:"role"`
	Method    string    `json:"method"`
	Checksum  string    `json:"checksum"`
	Dynamic   bool      `json:"dynamic"`
	UpdatedAt time.Time `json:"updated_at"`
}

// registryFile is the on-disk shape of the tool registry.
type registryFile struct {
	Tools map[string]RegistryEntry `json:"tools"`
}

// LoadRegistry reads the tool registry at path, keyed by "role.method".
// A missing file is an empty registry.
func LoadRegistry(path string) (map[string]RegistryEntry, error) {
	data, ok, err := iox.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("read tool registry: %w", err)
	}
	if !ok || len(data) == 0 {
		return map[string]RegistryEntry{}, nil
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode tool registry %s: %w", path, err)
	}
	if reg.Tools == nil {
		reg.Tools = map[string]RegistryEntry{}
	}
	return reg.Tools, nil
}

// registerTool records the version now serving the call's key.
func (e *Executor) registerTool(c *call, checksum string) error {
	path := e.cfg.RegistryPath
	if path == "" {
		return nil
	}
	tools, err := LoadRegistry(path)
	if err != nil {
		return err
	}
	tools[c.role+"."+c.method] = RegistryEntry{
		Role:      c.role,
		Method:    c.method,
		Checksum:  checksum,
		Dynamic:   c.dynamic,
		UpdatedAt: e.now().UTC(),
	}
	data, err := json.MarshalIndent(registryFile{Tools: tools}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tool registry: %w", err)
	}
	return iox.WriteFileAtomic(path, append(data, '\n'), 0o644)
}
