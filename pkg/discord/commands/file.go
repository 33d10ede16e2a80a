package commands

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk command definition format:
//
//	commands:
//	  - name: counter
//	    description: Post a counter panel
//	    options:
//	      - name: start
//	        description: Initial value
//	        type: integer
type File struct {
	Commands []CommandSpec `yaml:"commands"`
}

// LoadFile reads and validates a YAML command file.
func LoadFile(path string) ([]CommandSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read command file %s", path)
	}
	return Parse(b)
}

// Parse decodes and validates command definitions.
func Parse(b []byte) ([]CommandSpec, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse command file")
	}
	if err := ValidateAll(f.Commands); err != nil {
		return nil, err
	}
	return f.Commands, nil
}
