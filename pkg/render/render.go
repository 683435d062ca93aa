package render

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

//go:embed templates/*.tmpl
var builtins embed.FS

// Default template names by unit kind
const (
	AddonTemplate = "addon.yaml.tmpl"
	AppTemplate   = "app.yaml.tmpl"
)

// Renderer turns resolved units into deployable artifacts. Rendering is a
// pure function of the unit's configuration tree and the template text:
// the same input always produces byte-identical content.
type Renderer struct {
	overrideDir string
}

// NewRenderer creates a renderer using the built-in templates.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// WithOverrideDir sets a directory searched for templates before the
// built-in set. Files there shadow built-ins of the same name.
func (r *Renderer) WithOverrideDir(dir string) *Renderer {
	r.overrideDir = dir
	return r
}

// templateData is the root object visible to templates.
type templateData struct {
	Unit         *types.Unit
	Service      types.ServiceSpec
	Config       map[string]any
	NamedVolumes []string
}

// Render produces the artifact for one unit. Template parse failures and
// references to keys absent from the configuration tree both fail the
// unit before anything touches a host.
func (r *Renderer) Render(unit *types.Unit) (*types.Artifact, error) {
	spec, err := BuildSpec(unit)
	if err != nil {
		return nil, err
	}

	name := templateName(unit)
	src, err := r.templateSource(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Funcs(funcMap()).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, &types.RenderError{Kind: types.RenderTemplateSyntaxError, Unit: unit.ID, Detail: err.Error()}
	}

	data := templateData{
		Unit:         unit,
		Service:      spec,
		Config:       unit.Config,
		NamedVolumes: namedVolumes(spec),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, execError(unit.ID, err)
	}

	content := buf.Bytes()
	return &types.Artifact{
		Ref:             unit.Ref(),
		Spec:            spec,
		Content:         content,
		ConfigHash:      unit.ConfigHash,
		TemplateVersion: shaHex(src),
		Checksum:        shaHex(content),
	}, nil
}

func templateName(unit *types.Unit) string {
	if unit.Template != "" {
		// Template names come from configuration; strip any path so an
		// override name cannot escape the template directories.
		return filepath.Base(unit.Template)
	}
	if unit.Kind == types.UnitApp {
		return AppTemplate
	}
	return AddonTemplate
}

func (r *Renderer) templateSource(name string) ([]byte, error) {
	if r.overrideDir != "" {
		src, err := os.ReadFile(filepath.Join(r.overrideDir, name))
		if err == nil {
			return src, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
	}
	src, err := builtins.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return src, nil
}

// execError classifies template execution failures. Missing map keys and
// struct fields mean the template references data the tree does not
// carry; everything else is a template defect.
func execError(unitID string, err error) error {
	detail := err.Error()
	kind := types.RenderTemplateSyntaxError
	if strings.Contains(detail, "map has no entry for key") ||
		strings.Contains(detail, "can't evaluate field") ||
		strings.Contains(detail, "nil pointer evaluating") {
		kind = types.RenderUndefinedReference
	}
	return &types.RenderError{Kind: kind, Unit: unitID, Detail: detail}
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"quote": strconv.Quote,
	}
}

func shaHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
