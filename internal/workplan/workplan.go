// Package workplan loads the task and test orderings that drive per-task
// mode: specs/task-order.yaml and specs/test-order.yaml.
package workplan

import (
	"bytes"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/loopr-dev/loopr/internal/errs"
)

// TaskSpec is one row of task-order.yaml.
type TaskSpec struct {
	ID        int64   `yaml:"id"`
	Key       string  `yaml:"key"`
	Title     string  `yaml:"title"`
	File      string  `yaml:"file"`
	DependsOn []int64 `yaml:"depends_on"`
}

// TaskOrder is the full parsed task-order.yaml document.
type TaskOrder struct {
	Version int64      `yaml:"version"`
	Tasks   []TaskSpec `yaml:"tasks"`
}

// TestSpec is one row of test-order.yaml.
type TestSpec struct {
	ID        int64   `yaml:"id"`
	Key       string  `yaml:"key"`
	Title     string  `yaml:"title"`
	TaskID    int64   `yaml:"task_id"`
	File      string  `yaml:"file"`
	DependsOn []int64 `yaml:"depends_on"`
	Kind      string  `yaml:"kind"`
}

// TestOrder is the full parsed test-order.yaml document.
type TestOrder struct {
	Version int64      `yaml:"version"`
	Tests   []TestSpec `yaml:"tests"`
}

const taskOrderSchemaJSON = `{
	"type": "object",
	"required": ["version", "tasks"],
	"properties": {
		"version": {"type": "integer"},
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "key", "title", "file"],
				"properties": {
					"id": {"type": "integer"},
					"key": {"type": "string"},
					"title": {"type": "string"},
					"file": {"type": "string"},
					"depends_on": {"type": "array", "items": {"type": "integer"}}
				}
			}
		}
	}
}`

const testOrderSchemaJSON = `{
	"type": "object",
	"required": ["version", "tests"],
	"properties": {
		"version": {"type": "integer"},
		"tests": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "key", "title", "task_id", "file"],
				"properties": {
					"id": {"type": "integer"},
					"key": {"type": "string"},
					"title": {"type": "string"},
					"task_id": {"type": "integer"},
					"file": {"type": "string"},
					"depends_on": {"type": "array", "items": {"type": "integer"}},
					"kind": {"type": "string"}
				}
			}
		}
	}
}`

func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	return compiler.Compile(name)
}

// LoadTaskOrder reads and validates path as a task-order.yaml document.
func LoadTaskOrder(path string) (TaskOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskOrder{}, errs.IO("read "+path, err)
	}

	if err := validateYAML(data, "task-order.json", taskOrderSchemaJSON); err != nil {
		return TaskOrder{}, errs.Parse("parse "+path, err)
	}

	var order TaskOrder
	if err := yaml.Unmarshal(data, &order); err != nil {
		return TaskOrder{}, errs.Parse("parse "+path, err)
	}
	return order, nil
}

// LoadTestOrder reads and validates path as a test-order.yaml document.
func LoadTestOrder(path string) (TestOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TestOrder{}, errs.IO("read "+path, err)
	}

	if err := validateYAML(data, "test-order.json", testOrderSchemaJSON); err != nil {
		return TestOrder{}, errs.Parse("parse "+path, err)
	}

	var order TestOrder
	if err := yaml.Unmarshal(data, &order); err != nil {
		return TestOrder{}, errs.Parse("parse "+path, err)
	}
	return order, nil
}

// validateYAML decodes data into a generic map (so jsonschema can walk it)
// and validates it against the named schema, compiling the schema fresh
// each call since these are small, infrequent loads.
func validateYAML(data []byte, schemaName, schemaJSON string) error {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}
	generic = normalizeForSchema(generic)

	schema, err := compileSchema(schemaName, schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(generic)
}

// normalizeForSchema converts yaml.v3's map[string]any nodes (and any
// nested map[any]any from older-style YAML) into map[string]any recursively,
// since jsonschema expects JSON-shaped values.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeForSchema(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeForSchema(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeForSchema(elem)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
