// Package seed reads the machine inventory YAML used to bootstrap a fleet.
package seed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/golang-sql/civil"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/machines-v1.json
var machinesSchemaJSON string

const machinesSchemaID = "https://openmaintenancecore/schema/machines-v1.json"

type Machine struct {
	Sector              string `yaml:"sector" json:"sector"`
	MachineName         string `yaml:"machine_name" json:"machine_name"`
	AssetTag            string `yaml:"asset_tag,omitempty" json:"asset_tag,omitempty"`
	TicketReference     string `yaml:"ticket_reference,omitempty" json:"ticket_reference,omitempty"`
	NextMaintenanceDate string `yaml:"next_maintenance_date,omitempty" json:"next_maintenance_date,omitempty"`
}

type Document struct {
	Version  int       `yaml:"version" json:"version"`
	Machines []Machine `yaml:"machines" json:"machines"`
}

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource(machinesSchemaID, strings.NewReader(machinesSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(machinesSchemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks doc against the inventory schema.
func (v *Validator) Validate(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(generic); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Parse decodes and validates one inventory document. Unknown keys are
// rejected.
func (v *Validator) Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty seed document")
		}
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	if err := v.Validate(&doc); err != nil {
		return nil, err
	}
	// Dates need a calendar check the pattern cannot do.
	for i, m := range doc.Machines {
		if m.NextMaintenanceDate == "" {
			continue
		}
		if _, err := civil.ParseDate(m.NextMaintenanceDate); err != nil {
			return nil, fmt.Errorf("machines[%d]: invalid next_maintenance_date %q", i, m.NextMaintenanceDate)
		}
	}
	return &doc, nil
}

func (v *Validator) ParseBytes(data []byte) (*Document, error) {
	return v.Parse(bytes.NewReader(data))
}

// LoadFile reads and validates the document at path.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	v, err := NewValidator()
	if err != nil {
		return nil, err
	}

	doc, err := v.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Inputs converts the document into service create requests. The document
// must have passed Parse.
func (d *Document) Inputs() []service.CreateInput {
	inputs := make([]service.CreateInput, 0, len(d.Machines))
	for _, m := range d.Machines {
		in := service.CreateInput{
			Details: maintenance.Details{
				Sector:      m.Sector,
				MachineName: m.MachineName,
				AssetTag:    m.AssetTag,
			},
			TicketReference: m.TicketReference,
		}
		if m.NextMaintenanceDate != "" {
			if d, err := civil.ParseDate(m.NextMaintenanceDate); err == nil {
				in.NextMaintenanceDate = &d
			}
		}
		inputs = append(inputs, in)
	}
	return inputs
}
