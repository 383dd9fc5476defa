package configfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	APIConfigsFile = ".api_configs.toml"
	PromptsFile    = "prompts.toml"
)

var (
	ErrUnknownAPI    = errors.New("api not configured")
	ErrUnknownPrompt = errors.New("prompt not found")
)

// ParseError reports a persisted file that exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store reads the api config and prompt collections from a single directory.
// It only writes when a file is missing.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) APIConfigsPath() string { return filepath.Join(s.dir, APIConfigsFile) }

func (s *Store) PromptsPath() string { return filepath.Join(s.dir, PromptsFile) }

func (s *Store) LoadAPIConfigs() (map[string]APIConfig, error) {
	out := map[string]APIConfig{}
	if err := decodeFile(s.APIConfigsPath(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LoadPrompts() (map[string]Prompt, error) {
	out := map[string]Prompt{}
	if err := decodeFile(s.PromptsPath(), &out); err != nil {
		return nil, err
	}
	for name, p := range out {
		api, err := ParseAPI(string(p.API))
		if err != nil {
			return nil, &ParseError{Path: s.PromptsPath(), Err: fmt.Errorf("prompt %q: %w", name, err)}
		}
		// api config keys are lowercase
		p.API = api
		out[name] = p
	}
	return out, nil
}

func (s *Store) APIConfig(name string) (APIConfig, error) {
	all, err := s.LoadAPIConfigs()
	if err != nil {
		return APIConfig{}, err
	}
	cfg, ok := all[name]
	if !ok {
		return APIConfig{}, fmt.Errorf("%w: %q in %s", ErrUnknownAPI, name, s.APIConfigsPath())
	}
	return cfg, nil
}

func (s *Store) Prompt(name string) (Prompt, error) {
	all, err := s.LoadPrompts()
	if err != nil {
		return Prompt{}, err
	}
	p, ok := all[name]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %q in %s", ErrUnknownPrompt, name, s.PromptsPath())
	}
	return p, nil
}

// Generated lists the files EnsureGenerated had to create.
type Generated struct {
	APIConfigs bool
	Prompts    bool
}

func (g Generated) Any() bool { return g.APIConfigs || g.Prompts }

// EnsureGenerated writes default files for whichever of the two is missing.
// Existing files are never touched, whatever their content.
func (s *Store) EnsureGenerated() (Generated, error) {
	var g Generated
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return g, fmt.Errorf("create config dir %s: %w", s.dir, err)
	}

	created, err := writeIfMissing(s.PromptsPath(), DefaultPrompts(), 0o644)
	if err != nil {
		return g, err
	}
	g.Prompts = created

	// may hold inline api keys
	created, err = writeIfMissing(s.APIConfigsPath(), DefaultAPIConfigs(), 0o600)
	if err != nil {
		return g, err
	}
	g.APIConfigs = created

	return g, nil
}

// Usable reports whether any prompt points at an api with a credential source.
func (s *Store) Usable() (bool, error) {
	prompts, err := s.LoadPrompts()
	if err != nil {
		return false, err
	}
	apis, err := s.LoadAPIConfigs()
	if err != nil {
		return false, err
	}
	for _, p := range prompts {
		if cfg, ok := apis[p.API.String()]; ok && cfg.HasCredentialSource() {
			return true, nil
		}
	}
	return false, nil
}

func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(b), v); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

func writeIfMissing(path string, v any, perm os.FileMode) (bool, error) {
	b, err := Encode(v)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
