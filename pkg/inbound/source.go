package inbound

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/hookrelay/pkg/signature"
)

// Source describes one provider that posts webhooks to the receiver.
type Source struct {
	Name string `yaml:"name"`
	// Secret may reference environment variables, e.g. "${STRIPE_WEBHOOK_SECRET}".
	Secret string `yaml:"secret"`
	// Validator is a signature.Registry provider name. "none" disables verification.
	Validator string `yaml:"validator"`
	// SignatureHeader overrides the header recorded on stored events.
	SignatureHeader string `yaml:"signature_header"`
	// RequireValid rejects requests with a bad signature. Defaults to true.
	RequireValid *bool `yaml:"require_valid"`
	// EventHeader names the header carrying the event name. When empty, or the
	// header is missing, EventField (default "type", then "event") is read from the JSON body.
	EventHeader string `yaml:"event_header"`
	EventField  string `yaml:"event_field"`
	// IDHeader names a provider delivery id used to drop replays.
	IDHeader string `yaml:"id_header"`
	// Async defers processing to the task queue.
	Async bool `yaml:"async"`
	// Tolerance bounds timestamp skew for validators that sign a timestamp.
	Tolerance time.Duration `yaml:"tolerance"`
}

// NoValidation disables signature checks for a source.
const NoValidation = "none"

// RequiresValid reports the effective reject-on-invalid policy.
func (s Source) RequiresValid() bool {
	return s.RequireValid == nil || *s.RequireValid
}

func (s Source) validate(validators *signature.Registry) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if s.Validator == NoValidation {
		return nil
	}
	if _, err := validators.Validator(s.Validator); err != nil {
		return fmt.Errorf("%w: source %q: %w", ErrInvalidSource, s.Name, err)
	}
	if s.Secret == "" {
		return fmt.Errorf("%w: source %q: secret is required", ErrInvalidSource, s.Name)
	}
	return nil
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// ParseSources reads a YAML document with a top-level "sources" list.
// Secrets are expanded from the environment.
func ParseSources(r io.Reader) ([]Source, error) {
	var f sourcesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	for i := range f.Sources {
		f.Sources[i].Secret = os.ExpandEnv(f.Sources[i].Secret)
	}
	return f.Sources, nil
}

// LoadSourcesFile parses the YAML file at path.
func LoadSourcesFile(path string) ([]Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()
	return ParseSources(file)
}
