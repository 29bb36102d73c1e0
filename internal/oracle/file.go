// internal/oracle/file.go
package oracle

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a question set from a JSON file: a flat array of Question
// records.
func LoadFile(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read question file: %w", err)
	}
	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("oracle: parse question file %s: %w", path, err)
	}
	return questions, nil
}
