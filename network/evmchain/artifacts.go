package evmchain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vrflottery/lottery/contracts"
)

// LoadArtifact reads <dir>/<name>.json.
func LoadArtifact(dir, name string) (*contracts.Artifact, error) {
	path := filepath.Join(dir, name+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	artifact, err := contracts.UnmarshalArtifact(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if artifact.ContractName != "" && artifact.ContractName != name {
		return nil, fmt.Errorf("%s: artifact is for %s", path, artifact.ContractName)
	}
	return artifact, nil
}

func (c *Chain) bytecode(name string) ([]byte, error) {
	if c.artifacts == "" {
		return nil, fmt.Errorf("no build artifacts directory configured to deploy %s", name)
	}
	artifact, err := LoadArtifact(c.artifacts, name)
	if err != nil {
		return nil, err
	}
	return artifact.BytecodeBytes()
}
