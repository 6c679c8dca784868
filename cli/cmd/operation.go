package cmd

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-coverage/internal/chain"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

// readOperationPayload reads an operation object from a YAML or JSON file.
// "-" reads standard input.
func readOperationPayload(path string, stdin io.Reader) (map[string]interface{}, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read operation: %w", err)
	}

	var payload map[string]interface{}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse operation %s: %w", path, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("operation %s is empty", path)
	}
	return payload, nil
}

// readOperation reads and converts an operation file, deriving a missing span
// from its chain.
func readOperation(path string, stdin io.Reader) (*models.Operation, error) {
	payload, err := readOperationPayload(path, stdin)
	if err != nil {
		return nil, err
	}
	op := chain.FillSpan(chain.OperationFromPayload(payload))
	if len(op.Chain) == 0 {
		return nil, fmt.Errorf("operation %s has no chain links", path)
	}
	return op, nil
}
