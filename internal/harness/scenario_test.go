package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenarioFile(t, `
name: simple_reparent
description: "C moves from A to B"
setup:
  - id: A
    parent: ROOT
  - id: B
    parent: ROOT
  - id: C
    parent: A
batches:
  - - timestamp: t1
      node: C
      old_parent: A
      new_parent: B
      client: c1
assertions:
  - type: parent_equals
    node: C
    parent: B
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "simple_reparent", s.Name)
	assert.Len(t, s.Setup, 3)
	assert.Len(t, s.Batches, 1)
	assert.Len(t, s.Batches[0], 1)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenarioFile(t, `
name: x
description: "x"
batches:
  - - timestamp: t1
      node: C
      new_parent: B
      client: c1
assertions:
  - type: parent_equals
    node: C
    parent: B
typo_field: oops
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_MissingName(t *testing.T) {
	path := writeScenarioFile(t, `
description: "x"
batches:
  - - timestamp: t1
      node: C
      new_parent: B
      client: c1
assertions:
  - type: parent_equals
    node: C
    parent: B
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_MissingBatches(t *testing.T) {
	path := writeScenarioFile(t, `
name: x
description: "x"
assertions:
  - type: parent_equals
    node: C
    parent: B
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "batches")
}

func TestLoadScenario_OperationMissingTimestamp(t *testing.T) {
	path := writeScenarioFile(t, `
name: x
description: "x"
batches:
  - - node: C
      new_parent: B
      client: c1
assertions:
  - type: parent_equals
    node: C
    parent: B
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "timestamp")
}

func TestLoadScenario_UnknownAssertionType(t *testing.T) {
	path := writeScenarioFile(t, `
name: x
description: "x"
batches:
  - - timestamp: t1
      node: C
      new_parent: B
      client: c1
assertions:
  - type: bogus
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "unknown assertion type")
}
