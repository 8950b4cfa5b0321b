package sources

// Source is a single feed endpoint with its category tag.
type Source struct {
	URL string
	Tag string
}

type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Tag      string `yaml:"tag"`
	Name     string `yaml:"name"`
}
