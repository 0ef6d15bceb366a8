package provision

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema/ward-layout-v1.json
var wardLayoutSchemaJSON string

// Layout describes the physical beds of a ward.
type Layout struct {
	Ward  string `yaml:"ward" json:"ward"`
	Rooms []Room `yaml:"rooms" json:"rooms"`
}

type Room struct {
	ID       string   `yaml:"id" json:"id"`
	Category string   `yaml:"category,omitempty" json:"category,omitempty"`
	Beds     []string `yaml:"beds" json:"beds"`
}

// Provisioner registers beds; bed.Registry implements it.
type Provisioner interface {
	Provision(ctx context.Context, number, roomID, category string) (bed.Bed, bool, error)
}

type Result struct {
	Created  int
	Existing int
}

type Loader struct {
	schema *jsonschema.Schema
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) (*Loader, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("ward-layout-v1.json",
		strings.NewReader(wardLayoutSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("ward-layout-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Loader{schema: schema, logger: logger}, nil
}

func (l *Loader) LoadFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ward layout: %w", err)
	}

	layout, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid ward layout %s: %w", path, err)
	}
	return layout, nil
}

// Parse decodes a YAML layout and validates it against the embedded schema.
func (l *Loader) Parse(data []byte) (*Layout, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	// Round-trip through JSON so the validator sees JSON types.
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert layout: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(doc, &instance); err != nil {
		return nil, fmt.Errorf("failed to convert layout: %w", err)
	}

	if err := l.schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}

	seen := make(map[string]string)
	for _, room := range layout.Rooms {
		for _, number := range room.Beds {
			key := strings.ToUpper(number)
			if other, dup := seen[key]; dup {
				return nil, fmt.Errorf("bed %s listed in rooms %s and %s", number, other, room.ID)
			}
			seen[key] = room.ID
		}
	}

	return &layout, nil
}

// Apply provisions every bed of the layout. Beds that already exist keep
// their current state.
func (l *Loader) Apply(ctx context.Context, layout *Layout, p Provisioner) (Result, error) {
	var res Result
	for _, room := range layout.Rooms {
		for _, number := range room.Beds {
			_, created, err := p.Provision(ctx, number, room.ID, room.Category)
			if err != nil {
				return res, fmt.Errorf("failed to provision bed %s: %w", number, err)
			}
			if created {
				res.Created++
			} else {
				res.Existing++
			}
		}
	}

	l.logger.Info("Ward layout applied",
		zap.String("ward", layout.Ward),
		zap.Int("created", res.Created),
		zap.Int("existing", res.Existing))
	return res, nil
}
