package importer

import (
	"embed"
	"path"

	"github.com/rs/zerolog"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/template"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// templateFamilies lists the built-in template readers and their template
// files in trial order.
var templateFamilies = []struct {
	name  string
	files []string
}{
	{"ing", []string{"ing_csv.yaml"}},
	{"sparkasse", []string{"sparkasse_csv.yaml"}},
	{"fixedwidth", []string{"fixed_width.yaml"}},
	{"wuestenrot", []string{"wuestenrot_pdf.yaml"}},
}

// TemplateReader is a Reader backed by the template parsing engine.
type TemplateReader struct {
	name   string
	engine *template.Engine
}

// NewTemplateReader creates a reader trying templates in order.
func NewTemplateReader(name string, log zerolog.Logger, templates ...*template.Template) *TemplateReader {
	return &TemplateReader{name: name, engine: template.NewEngine(log.With().Str("reader", name).Logger(), templates...)}
}

// Name returns the reader name.
func (r *TemplateReader) Name() string { return r.name }

// Parse extracts text from data and runs the templates over its lines.
func (r *TemplateReader) Parse(fileName string, data []byte) *model.ParseResult {
	text, err := statementText(data)
	if err != nil {
		return nil
	}
	lines, err := template.Lines(text)
	if err != nil {
		return nil
	}
	return r.engine.Parse(lines)
}

// TemplateReaders returns the built-in template readers. Embedded templates
// that fail to load are a build defect and panic.
func TemplateReaders(log zerolog.Logger) []*TemplateReader {
	var out []*TemplateReader
	for _, fam := range templateFamilies {
		var tpls []*template.Template
		for _, f := range fam.files {
			src, err := templateFS.ReadFile(path.Join("templates", f))
			if err != nil {
				panic(err)
			}
			tpls = append(tpls, template.MustLoad(string(src)))
		}
		out = append(out, NewTemplateReader(fam.name, log, tpls...))
	}
	return out
}
