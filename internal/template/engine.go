package template

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Engine tries an ordered list of templates against one input.
type Engine struct {
	templates []*Template
	log       zerolog.Logger
}

// NewEngine creates an engine over templates, tried in order.
func NewEngine(log zerolog.Logger, templates ...*Template) *Engine {
	return &Engine{templates: templates, log: log}
}

// Templates returns the configured templates.
func (e *Engine) Templates() []*Template {
	return e.templates
}

// Parse returns the result of the first template yielding at least one
// movement, or nil when none does. Failures of one template never abort the
// remaining trials.
func (e *Engine) Parse(lines []string) *model.ParseResult {
	for _, t := range e.templates {
		res, err := t.Parse(lines)
		if err != nil {
			metrics.TemplateAttempts.WithLabelValues(t.Name, "rejected").Inc()
			e.log.Debug().Str("template", t.Name).Err(err).Msg("template rejected input")
			continue
		}
		metrics.TemplateAttempts.WithLabelValues(t.Name, "matched").Inc()
		e.log.Debug().Str("template", t.Name).Int("movements", len(res.Movements)).Msg("template matched")
		return res
	}
	return nil
}

// maxLineSize bounds a single statement line.
const maxLineSize = 4 * 1024 * 1024

// Lines splits raw statement bytes into lines, dropping a UTF-8 byte order
// mark. A line longer than maxLineSize is an error, never a truncated result.
func Lines(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("splitting lines: %w", err)
	}
	return out, nil
}
