package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Parse decodes plan YAML. Unknown keys are rejected so a typoed field
// cannot silently change a batch.
func Parse(data []byte) (*Plan, error) {
	p := &Plan{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, errors.Wrap(err, "parsing plan")
	}
	return p, nil
}

// ParseFile reads and decodes a plan file.
func ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading plan file %s", path)
	}
	return Parse(data)
}

// Marshal serialises a plan back to YAML.
func Marshal(p *Plan) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "serialising plan")
	}
	return data, nil
}

// Digest is a stable hash of the plan contents, stored in batch state so a
// resumed batch can detect a swapped plan file.
func Digest(p *Plan) (string, error) {
	canonical, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "hashing plan")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
