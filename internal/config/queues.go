package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueueDefinition declares a queue's template parameters and seed assignee.
type QueueDefinition struct {
	Name              string   `yaml:"name"`
	AutomaticAssignee string   `yaml:"automatic_assignee"`
	Params            []string `yaml:"params"`
}

// QueuesFile is the document read from QUEUES_FILE.
type QueuesFile struct {
	Queues []QueueDefinition `yaml:"queues"`
}

// LoadQueues parses a queue definition file. An empty path yields no definitions.
func LoadQueues(path string) (*QueuesFile, error) {
	if strings.TrimSpace(path) == "" {
		return &QueuesFile{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queues file: %w", err)
	}
	return ParseQueues(raw)
}

// ParseQueues decodes and validates a queue definition document.
func ParseQueues(raw []byte) (*QueuesFile, error) {
	var file QueuesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse queues file: %w", err)
	}
	seen := map[string]bool{}
	for i, q := range file.Queues {
		name := strings.TrimSpace(q.Name)
		if name == "" {
			return nil, fmt.Errorf("queue %d: name is required", i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("queue %q declared twice", name)
		}
		seen[key] = true
		file.Queues[i].Name = name
		file.Queues[i].AutomaticAssignee = strings.TrimSpace(q.AutomaticAssignee)
	}
	return &file, nil
}
