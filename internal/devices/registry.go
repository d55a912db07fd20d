package devices

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mtconnect-agent/backend/internal/models"
)

// ComponentType describes a component element known to the agent.
type ComponentType struct {
	Name string
	// Organizer components only group other components.
	Organizer bool
	// DefaultName is used when the element carries no name attribute.
	DefaultName string
}

// Registry maps component element names to their types. It is built once
// and is read-only afterwards.
type Registry struct {
	types map[string]ComponentType
}

var defaultRegistry = NewRegistry()

// NewRegistry creates a registry with every supported component type.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]ComponentType)}
	for _, t := range []ComponentType{
		{Name: "Adapters", Organizer: true},
		{Name: "Auxiliaries", Organizer: true},
		{Name: "Axes", Organizer: true, DefaultName: "base"},
		{Name: "Controller", DefaultName: "controller"},
		{Name: "Interfaces", Organizer: true},
		{Name: "Parts", Organizer: true},
		{Name: "Processes", Organizer: true},
		{Name: "Resources", Organizer: true},
		{Name: "Structures", Organizer: true},
		{Name: "Systems", Organizer: true},
		{Name: "Adapter"},
		{Name: "Actuator"},
		{Name: "BarFeeder"},
		{Name: "Chuck"},
		{Name: "Coolant"},
		{Name: "Door"},
		{Name: "Electric"},
		{Name: "Enclosure"},
		{Name: "Environmental"},
		{Name: "Feeder"},
		{Name: "Hydraulic"},
		{Name: "Linear"},
		{Name: "Loader"},
		{Name: "Lock"},
		{Name: "Lubrication"},
		{Name: "Materials"},
		{Name: "Path"},
		{Name: "Personnel"},
		{Name: "Pneumatic"},
		{Name: "Power"},
		{Name: "Protective"},
		{Name: "Rotary"},
		{Name: "Sensor"},
		{Name: "Spindle"},
		{Name: "Stock"},
		{Name: "Structure"},
		{Name: "Table"},
		{Name: "ToolMagazine"},
		{Name: "ToolingDelivery"},
		{Name: "WasteDisposal"},
		{Name: "WorkEnvelope"},
	} {
		r.types[t.Name] = t
	}
	return r
}

// DefaultRegistry returns the shared registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Lookup returns the component type registered for an element name.
func (r *Registry) Lookup(element string) (ComponentType, error) {
	if t, ok := r.types[element]; ok {
		return t, nil
	}
	// element names are case-sensitive in the schema, accept sloppy files anyway
	for name, t := range r.types {
		if strings.EqualFold(name, element) {
			return t, nil
		}
	}
	return ComponentType{}, fmt.Errorf("unknown component type: %s", element)
}

// NewComponent creates a component for an element name. Unknown elements
// become generic components typed by their element name.
func (r *Registry) NewComponent(element, id, name string) *models.Component {
	c := &models.Component{ID: id, Type: element, Name: name}
	if t, err := r.Lookup(element); err == nil {
		c.Type = t.Name
		if c.Name == "" {
			c.Name = t.DefaultName
		}
	}
	return c
}

// Names returns the registered component types in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
