// Package deployments records where contracts were deployed, per chain, in
// the map.json layout the dapp front end reads.
package deployments

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

const (
	// MapFile is the registry file name inside the deployments directory.
	MapFile = "map.json"
	// BlocksFile holds the deployment block of each recorded address. It is
	// kept apart from MapFile, whose layout the front end depends on.
	BlocksFile = "blocks.json"
)

// Registry maps chain id to contract name to deployed addresses, newest
// first. It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex
	// path is empty for registries that are never persisted.
	path    string
	entries map[string]map[string][]string
	// blocks maps chain id to address to deployment block.
	blocks map[string]map[string]uint64
}

// NewMemory creates a registry that is never written to disk. It is used
// for the in-process development chain, whose contracts do not outlive the
// process.
func NewMemory() *Registry {
	return &Registry{
		entries: make(map[string]map[string][]string),
		blocks:  make(map[string]map[string]uint64),
	}
}

// Load reads <dir>/map.json and <dir>/blocks.json. Missing files yield an
// empty registry that is created on the first Record.
func Load(dir string) (*Registry, error) {
	r := NewMemory()
	r.path = filepath.Join(dir, MapFile)
	if err := readJSON(r.path, &r.entries); err != nil {
		return nil, err
	}
	if err := readJSON(r.blocksPath(), &r.blocks); err != nil {
		return nil, err
	}
	if r.entries == nil {
		r.entries = make(map[string]map[string][]string)
	}
	if r.blocks == nil {
		r.blocks = make(map[string]map[string]uint64)
	}
	return r, nil
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (r *Registry) blocksPath() string {
	return filepath.Join(filepath.Dir(r.path), BlocksFile)
}

// Record prepends addr to the deployments of name on chainID and persists
// the registry.
func (r *Registry) Record(chainID *big.Int, name string, addr ethCommon.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := chainID.String()
	if r.entries[chain] == nil {
		r.entries[chain] = make(map[string][]string)
	}
	r.entries[chain][name] = append([]string{addr.Hex()}, r.entries[chain][name]...)
	return r.save()
}

// RecordBlock stores the block addr was deployed in on chainID and
// persists the registry.
func (r *Registry) RecordBlock(chainID *big.Int, addr ethCommon.Address, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := chainID.String()
	if r.blocks[chain] == nil {
		r.blocks[chain] = make(map[string]uint64)
	}
	r.blocks[chain][addr.Hex()] = block
	return r.save()
}

// DeployBlock returns the block addr was deployed in on chainID, if known.
func (r *Registry) DeployBlock(chainID *big.Int, addr ethCommon.Address) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	block, ok := r.blocks[chainID.String()][addr.Hex()]
	return block, ok
}

// Latest returns the newest deployment of name on chainID.
func (r *Registry) Latest(chainID *big.Int, name string) (ethCommon.Address, bool) {
	all := r.All(chainID, name)
	if len(all) == 0 {
		return ethCommon.Address{}, false
	}
	return all[0], true
}

// All returns the deployments of name on chainID, newest first.
func (r *Registry) All(chainID *big.Int, name string) []ethCommon.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ethCommon.Address
	for _, addr := range r.entries[chainID.String()][name] {
		out = append(out, ethCommon.HexToAddress(addr))
	}
	return out
}

// Save writes the registry to disk.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save()
}

func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating deployments directory: %w", err)
	}
	if err := writeJSON(r.path, r.entries); err != nil {
		return fmt.Errorf("writing deployment map: %w", err)
	}
	if len(r.blocks) == 0 {
		return nil
	}
	if err := writeJSON(r.blocksPath(), r.blocks); err != nil {
		return fmt.Errorf("writing deployment blocks: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	// Write to a sibling file first so readers never observe a partial file.
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
