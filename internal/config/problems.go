package config

import (
	"fmt"
	"os"

	"coderoom-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadProblems reads a YAML list of problems, as used for seeding.
func LoadProblems(path string) ([]domain.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var problems []domain.Problem
	if err := yaml.Unmarshal(data, &problems); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, p := range problems {
		if p.ID == "" {
			return nil, fmt.Errorf("problem %d in %s has no id", i, path)
		}
	}
	return problems, nil
}
