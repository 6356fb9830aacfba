// Package loader performs all file I/O for a schema directory: entity
// markdown documents, the optional areas.yaml, and the optional views.yaml.
// It hands fully-parsed structures and a populated type registry to the
// compiler core, which never touches the filesystem itself.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/metamark-lang/metamark/compiler/entity"
	"github.com/metamark-lang/metamark/compiler/schema"
	"github.com/metamark-lang/metamark/compiler/typereg"
	"github.com/metamark-lang/metamark/compiler/view"
)

// TypesDocument is the reserved H1 name of a markdown file declaring global
// types instead of an entity.
const TypesDocument = "Types"

const (
	areasFile = "areas.yaml"
	viewsFile = "views.yaml"
)

// Result is everything read from one schema directory. The registry is fully
// populated (global types plus every entity's local types) before Result is
// returned, so the compiler may run immediately.
type Result struct {
	Documents []*entity.Document
	Registry  *typereg.Registry
	Areas     map[string]schema.Area
	Views     []view.Definition
}

// Loader reads schema directories. Malformed units are logged and skipped;
// only unreadable files and unparseable YAML are hard errors.
type Loader struct {
	logger *zap.Logger
}

// New creates a loader. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// Load reads every *.md file in dir (sorted by name for deterministic
// compile order), plus areas.yaml and views.yaml when present.
func (l *Loader) Load(dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	res := &Result{
		Registry: typereg.New(),
		Areas:    make(map[string]schema.Area),
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, err := entity.Parse(string(data))
		if err != nil {
			l.logger.Warn("skipping entity document", zap.String("file", name), zap.Error(err))
			continue
		}
		for _, w := range doc.Warnings {
			l.logger.Warn("entity document warning", zap.String("file", name), zap.String("warning", w))
		}

		if doc.Name == TypesDocument {
			l.registerTypes(res.Registry, "", doc, name)
			continue
		}
		l.registerTypes(res.Registry, doc.Name, doc, name)
		res.Documents = append(res.Documents, doc)
	}

	if err := l.loadAreas(dir, res); err != nil {
		return nil, err
	}
	if err := l.loadViews(dir, res); err != nil {
		return nil, err
	}
	return res, nil
}

// registerTypes registers a document's type rows, globally when scope is
// empty and entity-scoped otherwise.
func (l *Loader) registerTypes(reg *typereg.Registry, scope string, doc *entity.Document, file string) {
	for _, row := range doc.Types {
		def, err := typeDef(row)
		if err == nil {
			if scope == "" {
				err = reg.Register(def)
			} else {
				err = reg.RegisterScoped(scope, def)
			}
		}
		if err != nil {
			l.logger.Warn("skipping type definition",
				zap.String("file", file),
				zap.String("type", row.Name),
				zap.Error(err))
		}
	}
}

// typeDef converts one table row into a registry definition. Enum rows list
// their values comma-separated; pattern rows carry a regex; aggregate rows
// list name:type subfields.
func typeDef(row entity.TypeRow) (*typereg.TypeDef, error) {
	kind, err := typereg.ParseKind(row.Kind)
	if err != nil {
		return nil, err
	}
	def := &typereg.TypeDef{
		Name:    row.Name,
		Kind:    kind,
		Example: strings.Trim(row.Example, `"`),
	}

	switch kind {
	case typereg.KindEnum:
		for _, v := range strings.Split(row.Definition, ",") {
			if v = strings.TrimSpace(v); v != "" {
				def.Values = append(def.Values, v)
			}
		}
		if len(def.Values) == 0 {
			return nil, fmt.Errorf("enum %s declares no values", row.Name)
		}

	case typereg.KindPattern:
		def.Validation = strings.TrimSpace(row.Definition)

	case typereg.KindAggregate:
		for _, field := range strings.Split(row.Definition, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			name, typ, found := strings.Cut(field, ":")
			if !found {
				return nil, fmt.Errorf("aggregate %s: subfield %q needs name:type", row.Name, field)
			}
			def.Subfields = append(def.Subfields, typereg.AggregateField{
				Name: strings.TrimSpace(name),
				Type: strings.TrimSpace(typ),
			})
		}
		if len(def.Subfields) == 0 {
			return nil, fmt.Errorf("aggregate %s declares no subfields", row.Name)
		}
	}
	return def, nil
}

// areasDocument is the YAML shape of areas.yaml.
type areasDocument struct {
	Areas []schema.Area `yaml:"areas"`
}

func (l *Loader) loadAreas(dir string, res *Result) error {
	data, err := os.ReadFile(filepath.Join(dir, areasFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", areasFile, err)
	}
	var doc areasDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", areasFile, err)
	}
	for _, area := range doc.Areas {
		if area.DisplayName == "" {
			l.logger.Warn("skipping unnamed area")
			continue
		}
		res.Areas[area.DisplayName] = area
	}
	return nil
}

// viewsDocument is the YAML shape of views.yaml.
type viewsDocument struct {
	Views []view.Definition `yaml:"views"`
}

func (l *Loader) loadViews(dir string, res *Result) error {
	data, err := os.ReadFile(filepath.Join(dir, viewsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", viewsFile, err)
	}
	var doc viewsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", viewsFile, err)
	}
	for _, def := range doc.Views {
		if def.Name == "" || def.Base == "" {
			l.logger.Warn("skipping view definition without name or base entity",
				zap.String("name", def.Name))
			continue
		}
		res.Views = append(res.Views, def)
	}
	return nil
}
