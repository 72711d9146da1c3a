package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventory = `
version: 1
machines:
  - sector: BAL
    machine_name: bal1-pc
    asset_tag: MA-3R4S5T6-P
  - sector: TI
    machine_name: info-pc
    asset_tag: MA-5L6M7N8-L
    next_maintenance_date: 2025-01-21
    ticket_reference: CH9
`

func TestParse(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc, err := v.ParseBytes([]byte(inventory))
	require.NoError(t, err)
	require.Len(t, doc.Machines, 2)
	assert.Equal(t, "2025-01-21", doc.Machines[1].NextMaintenanceDate)

	inputs := doc.Inputs()
	require.Len(t, inputs, 2)
	assert.Equal(t, "bal1-pc", inputs[0].MachineName)
	assert.Nil(t, inputs[0].NextMaintenanceDate)
	assert.Equal(t, civil.Date{Year: 2025, Month: 1, Day: 21}, *inputs[1].NextMaintenanceDate)
	assert.Equal(t, "CH9", inputs[1].TicketReference)
}

func TestParseRejects(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := map[string]string{
		"empty":            "",
		"wrong version":    "version: 2\nmachines: []\n",
		"missing sector":   "version: 1\nmachines:\n  - machine_name: x\n",
		"blank name":       "version: 1\nmachines:\n  - sector: TI\n    machine_name: \"\"\n",
		"unknown key":      "version: 1\nmachines:\n  - sector: TI\n    machine_name: x\n    colour: red\n",
		"malformed date":   "version: 1\nmachines:\n  - sector: TI\n    machine_name: x\n    next_maintenance_date: 21/01/2025\n",
		"impossible date":  "version: 1\nmachines:\n  - sector: TI\n    machine_name: x\n    next_maintenance_date: \"2025-02-30\"\n",
		"not a mapping":    "- a\n- b\n",
		"missing machines": "version: 1\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseBytes([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestSchemaErrorsNameTheSchemaNotTheHost(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	_, parseErr := v.ParseBytes([]byte("version: 2\nmachines: []\n"))
	require.Error(t, parseErr)
	assert.Contains(t, parseErr.Error(), machinesSchemaID)
	assert.NotContains(t, parseErr.Error(), "file://")

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.NotContains(t, parseErr.Error(), wd)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventory), 0o644))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, doc.Machines, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
