package sources

import (
	"cmp"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads the source list from a YAML file. The file is re-read on
// every call so edits take effect without a restart.
type Loader struct {
	path string
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the configured sources. A missing or malformed file yields an
// empty list with a warning, never an error: the caller skips the cycle and
// retries on the next one.
func (l *Loader) Load() ([]Source, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		slog.Warn("Sources file not readable", "path", l.path, "error", err)
		return nil, nil
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("Sources file is not valid YAML", "path", l.path, "error", err)
		return nil, nil
	}

	out := make([]Source, 0, len(file.Sources))
	for _, entry := range file.Sources {
		if entry.URL == "" {
			continue
		}
		tag := cmp.Or(entry.Category, entry.Tag, entry.Name)
		out = append(out, Source{
			URL: entry.URL,
			Tag: strings.ToUpper(tag),
		})
	}

	return out, nil
}
