package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cuongbtq/genqueue/internal/domain"
	"gopkg.in/yaml.v3"
)

// Media types produced by an app
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// ValueKind distinguishes literal field values from the uploaded file reference.
type ValueKind int

const (
	// Literal values are sent unchanged
	Literal ValueKind = iota
	// UploadedFileRef is replaced by the remote file identifier at submission time
	UploadedFileRef
)

// FieldValue is a tagged field value.
type FieldValue struct {
	Kind  ValueKind
	Value string
}

// LiteralValue builds a literal field value.
func LiteralValue(v string) FieldValue {
	return FieldValue{Kind: Literal, Value: v}
}

// UploadRef builds a reference to the uploaded file.
func UploadRef() FieldValue {
	return FieldValue{Kind: UploadedFileRef}
}

// Field is one node field of an app template.
type Field struct {
	NodeID    string
	FieldName string
	Value     FieldValue
}

// NodeAssignment is a resolved field ready for the run request.
type NodeAssignment struct {
	NodeID     string
	FieldName  string
	FieldValue string
}

// App maps an app key to a remote webapp and its field template.
type App struct {
	Key      string
	Name     string
	Media    string
	WebappID string
	Fields   []Field
}

// Resolve substitutes every uploaded file reference with fileID.
func (a App) Resolve(fileID string) []NodeAssignment {
	out := make([]NodeAssignment, 0, len(a.Fields))
	for _, f := range a.Fields {
		value := f.Value.Value
		if f.Value.Kind == UploadedFileRef {
			value = fileID
		}
		out = append(out, NodeAssignment{
			NodeID:     f.NodeID,
			FieldName:  f.FieldName,
			FieldValue: value,
		})
	}
	return out
}

// Catalog is the read-only set of apps.
type Catalog struct {
	apps map[string]App
}

// New builds a catalog from apps after validating them.
func New(apps []App) (*Catalog, error) {
	c := &Catalog{apps: make(map[string]App, len(apps))}
	for _, app := range apps {
		if err := validateApp(app); err != nil {
			return nil, err
		}
		if _, dup := c.apps[app.Key]; dup {
			return nil, fmt.Errorf("duplicate app key %q", app.Key)
		}
		c.apps[app.Key] = app
	}
	return c, nil
}

// Lookup returns the app registered under key.
func (c *Catalog) Lookup(key string) (App, error) {
	app, ok := c.apps[key]
	if !ok {
		return App{}, fmt.Errorf("%w: %q", domain.ErrUnknownApp, key)
	}
	return app, nil
}

// List returns all apps sorted by key.
func (c *Catalog) List() []App {
	out := make([]App, 0, len(c.apps))
	for _, app := range c.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func validateApp(app App) error {
	if strings.TrimSpace(app.Key) == "" {
		return fmt.Errorf("app key is required")
	}
	if strings.TrimSpace(app.WebappID) == "" {
		return fmt.Errorf("app %q: webapp_id is required", app.Key)
	}
	if app.Media != MediaImage && app.Media != MediaVideo {
		return fmt.Errorf("app %q: media must be %q or %q", app.Key, MediaImage, MediaVideo)
	}
	if len(app.Fields) == 0 {
		return fmt.Errorf("app %q: at least one field is required", app.Key)
	}
	uploads := 0
	for i, f := range app.Fields {
		if f.NodeID == "" || f.FieldName == "" {
			return fmt.Errorf("app %q: field %d needs node_id and field_name", app.Key, i)
		}
		if f.Value.Kind == UploadedFileRef {
			uploads++
		}
	}
	if uploads == 0 {
		return fmt.Errorf("app %q: no field takes the uploaded file", app.Key)
	}
	return nil
}

type fileFormat struct {
	Apps []appYAML `yaml:"apps"`
}

type appYAML struct {
	Key      string      `yaml:"key"`
	Name     string      `yaml:"name"`
	Media    string      `yaml:"media"`
	WebappID string      `yaml:"webapp_id"`
	Fields   []fieldYAML `yaml:"fields"`
}

type fieldYAML struct {
	NodeID    string  `yaml:"node_id"`
	FieldName string  `yaml:"field_name"`
	Value     *string `yaml:"value"`
	Upload    bool    `yaml:"upload"`
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	apps := make([]App, 0, len(file.Apps))
	for _, a := range file.Apps {
		app := App{
			Key:      a.Key,
			Name:     a.Name,
			Media:    a.Media,
			WebappID: a.WebappID,
		}
		if app.Media == "" {
			app.Media = MediaImage
		}
		for _, f := range a.Fields {
			field := Field{NodeID: f.NodeID, FieldName: f.FieldName}
			switch {
			case f.Upload && f.Value != nil:
				return nil, fmt.Errorf("app %q: field %s.%s sets both upload and value", a.Key, f.NodeID, f.FieldName)
			case f.Upload:
				field.Value = UploadRef()
			case f.Value != nil:
				field.Value = LiteralValue(*f.Value)
			default:
				return nil, fmt.Errorf("app %q: field %s.%s needs upload or value", a.Key, f.NodeID, f.FieldName)
			}
			app.Fields = append(app.Fields, field)
		}
		apps = append(apps, app)
	}
	return New(apps)
}
