package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/isdmx/kubebox/config"
)

// Resolver maps a language to the container image and command line that runs it.
// The table is closed: languages not configured are rejected before any cluster call.
type Resolver struct {
	images map[string]string
	script string
}

// NewResolver builds the language table from configuration. Languages without an image
// override run on the shared executor image {registry}/{project}/executor:latest.
func NewResolver(cfg *config.Config) *Resolver {
	defaultImage := fmt.Sprintf("%s/%s/executor:latest",
		strings.TrimSuffix(cfg.Kubernetes.Registry, "/"), cfg.Kubernetes.ProjectID)

	images := make(map[string]string, len(cfg.Languages))
	for name, lang := range cfg.Languages {
		image := strings.TrimSpace(lang.Image)
		if image == "" {
			image = defaultImage
		}
		images[normalizeLanguage(name)] = image
	}

	return &Resolver{images: images, script: cfg.Kubernetes.Script}
}

// Languages returns the supported language names in sorted order.
func (r *Resolver) Languages() []string {
	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Image returns the container image for the language.
func (r *Resolver) Image(language string) (string, error) {
	image, ok := r.images[normalizeLanguage(language)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return image, nil
}

// Resolve returns the image and the container command. The guest script receives exactly
// four positional arguments: language, code, input path (possibly empty) and output path.
func (r *Resolver) Resolve(language, code, inputPath, outputPath string) (image string, command []string, err error) {
	image, err = r.Image(language)
	if err != nil {
		return "", nil, err
	}

	line := strings.Join([]string{
		r.script,
		ShellQuote(normalizeLanguage(language)),
		ShellQuote(code),
		ShellQuote(inputPath),
		ShellQuote(outputPath),
	}, " ")

	return image, []string{"sh", "-c", line}, nil
}

// normalizeLanguage makes language names case-insensitive on both sides of the table.
func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// ShellQuote wraps s in single quotes so sh treats it as one literal word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
