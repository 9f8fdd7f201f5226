package plugin

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend identifies the runtime a plugin file loads into.
type Backend string

// Supported backends.
const (
	BackendLua    Backend = "lua"
	BackendJS     Backend = "js"
	BackendWASM   Backend = "wasm"
	BackendNative Backend = "native"
)

// Tier orders the plugin search directories. Lower tiers shadow
// higher ones by name.
type Tier int

const (
	// TierDev is the plugins/ directory of a development tree.
	TierDev Tier = iota
	// TierGlobal is ~/.runcrate/plugins.
	TierGlobal
	// TierProject is ./.runcrate/plugins under the working directory.
	TierProject
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierDev:
		return "dev"
	case TierGlobal:
		return "global"
	case TierProject:
		return "project"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Descriptor is a discovered plugin file before loading.
type Descriptor struct {
	// Name is the default plugin name, the file stem. The loaded
	// provider may report a different name.
	Name string

	// Backend selects the runtime.
	Backend Backend

	// Tier records which search directory contributed the file.
	Tier Tier

	// Path is the absolute plugin file path.
	Path string
}

// DetectBackend maps a file extension to its backend.
func DetectBackend(path string) (Backend, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return BackendLua, nil
	case ".js":
		return BackendJS, nil
	case ".wasm":
		return BackendWASM, nil
	case ".so", ".dylib", ".dll":
		return BackendNative, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownBackend, filepath.Base(path))
}

// Describe builds a descriptor for a plugin file.
func Describe(path string, tier Tier) (Descriptor, error) {
	backend, err := DetectBackend(path)
	if err != nil {
		return Descriptor{}, err
	}
	base := filepath.Base(path)
	return Descriptor{
		Name:    strings.TrimSuffix(base, filepath.Ext(base)),
		Backend: backend,
		Tier:    tier,
		Path:    path,
	}, nil
}
