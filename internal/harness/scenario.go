package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario against the CRDT engine: an
// initial tree, one or more batches of move operations applied through the
// real engine, and assertions on the resulting nodes/op_log tables.
//
// Batches are applied in the order given, each through its own Engine.Apply
// call, mirroring how a relay or sync coordinator delivers pushes as
// discrete transactions rather than one giant batch.
type Scenario struct {
	// Name uniquely identifies this scenario; also the golden file key.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup seeds the materialized nodes table before any batch is
	// applied, without going through the engine or the log. Used to
	// establish a starting tree shape concisely.
	Setup []NodeSeed `yaml:"setup,omitempty"`

	// Batches are applied in order, each via one Engine.Apply call.
	Batches [][]OperationSpec `yaml:"batches"`

	// Assertions validate the final nodes table and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// NodeSeed places a node directly into the materialized table.
type NodeSeed struct {
	ID     string `yaml:"id"`
	Parent string `yaml:"parent"`
}

// OperationSpec is the YAML form of an ir.Operation.
type OperationSpec struct {
	Timestamp   string `yaml:"timestamp"`
	Node        string `yaml:"node"`
	OldParent   string `yaml:"old_parent"`
	NewParent   string `yaml:"new_parent"`
	Client      string `yaml:"client"`
}

// Assertion validates the scenario's outcome.
type Assertion struct {
	// Type is one of AssertParentEquals, AssertFinalState, AssertAppliedCount,
	// AssertSkippedCount.
	Type string `yaml:"type"`

	// Node, Parent are used by parent_equals.
	Node   string `yaml:"node,omitempty"`
	Parent string `yaml:"parent,omitempty"`

	// Table, Where, Expect are used by final_state (subset match against a
	// queried row, identical semantics to the teacher's state assertions).
	Table  string                 `yaml:"table,omitempty"`
	Where  map[string]interface{} `yaml:"where,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is used by applied_count / skipped_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertParentEquals = "parent_equals"
	AssertFinalState   = "final_state"
	AssertAppliedCount = "applied_count"
	AssertSkippedCount = "skipped_count"
)

// LoadScenario reads and parses a scenario YAML file, rejecting unknown
// fields so a typo'd key fails loudly instead of silently no-op'ing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Batches) == 0 {
		return fmt.Errorf("batches list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, seed := range s.Setup {
		if seed.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
	}

	for bi, batch := range s.Batches {
		for oi, op := range batch {
			if op.Timestamp == "" {
				return fmt.Errorf("batches[%d][%d]: timestamp is required", bi, oi)
			}
			if op.Node == "" {
				return fmt.Errorf("batches[%d][%d]: node is required", bi, oi)
			}
			if op.NewParent == "" {
				return fmt.Errorf("batches[%d][%d]: new_parent is required", bi, oi)
			}
			if op.Client == "" {
				return fmt.Errorf("batches[%d][%d]: client is required", bi, oi)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertParentEquals:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for parent_equals", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertAppliedCount, AssertSkippedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
