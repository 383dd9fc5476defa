package configfile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestEnsureGeneratedCreatesMissingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "pipelm")
	s := New(dir)

	g, err := s.EnsureGenerated()
	if err != nil {
		t.Fatalf("ensure generated: %v", err)
	}
	if !g.APIConfigs || !g.Prompts {
		t.Fatalf("expected both files created, got %+v", g)
	}

	info, err := os.Stat(s.APIConfigsPath())
	if err != nil {
		t.Fatalf("stat api configs: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 api configs, got %v", info.Mode().Perm())
	}
	if _, err := os.Stat(s.PromptsPath()); err != nil {
		t.Fatalf("stat prompts: %v", err)
	}
}

func TestEnsureGeneratedKeepsExistingFiles(t *testing.T) {
	s := New(t.TempDir())

	if err := os.WriteFile(s.APIConfigsPath(), []byte("Some API key data"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(s.PromptsPath(), []byte("Some prompts data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	g, err := s.EnsureGenerated()
	if err != nil {
		t.Fatalf("ensure generated: %v", err)
	}
	if g.Any() {
		t.Fatalf("nothing should be created, got %+v", g)
	}

	if b := readFile(t, s.APIConfigsPath()); b != "Some API key data" {
		t.Fatalf("api configs overwritten: %q", b)
	}
	if b := readFile(t, s.PromptsPath()); b != "Some prompts data" {
		t.Fatalf("prompts overwritten: %q", b)
	}
}

func TestEnsureGeneratedIsIdempotent(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.EnsureGenerated(); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	firstAPI, firstPrompts := readFile(t, s.APIConfigsPath()), readFile(t, s.PromptsPath())

	g, err := s.EnsureGenerated()
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if g.Any() {
		t.Fatalf("second run created files: %+v", g)
	}
	if readFile(t, s.APIConfigsPath()) != firstAPI || readFile(t, s.PromptsPath()) != firstPrompts {
		t.Fatalf("files changed on second run")
	}
}

func TestEnsureGeneratedOnlyFillsTheMissingFile(t *testing.T) {
	s := New(t.TempDir())
	if err := os.WriteFile(s.PromptsPath(), []byte("[mine]\napi = \"mistral\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	g, err := s.EnsureGenerated()
	if err != nil {
		t.Fatalf("ensure generated: %v", err)
	}
	if !g.APIConfigs || g.Prompts {
		t.Fatalf("expected only api configs created, got %+v", g)
	}

	prompts, err := s.LoadPrompts()
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	if len(prompts) != 1 || prompts["mine"].API != APIMistral {
		t.Fatalf("unexpected prompts %+v", prompts)
	}
}

func TestGeneratedDefaultsRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.EnsureGenerated(); err != nil {
		t.Fatalf("ensure generated: %v", err)
	}

	apis, err := s.LoadAPIConfigs()
	if err != nil {
		t.Fatalf("load api configs: %v", err)
	}
	if !reflect.DeepEqual(apis, DefaultAPIConfigs()) {
		t.Fatalf("api configs differ after round trip: %+v", apis)
	}
	if apis["groq"] != DefaultAPIConfig(APIGroq) {
		t.Fatalf("unexpected groq config %+v", apis["groq"])
	}

	prompts, err := s.LoadPrompts()
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	if !reflect.DeepEqual(prompts["default"], DefaultPrompt()) {
		t.Fatalf("default prompt differs: %+v", prompts["default"])
	}
	if !reflect.DeepEqual(prompts["empty"], EmptyPrompt()) {
		t.Fatalf("empty prompt differs: %+v", prompts["empty"])
	}
}

func TestPromptRoundTripKeepsOptionalFields(t *testing.T) {
	temp := 0.0
	in := map[string]Prompt{
		"cold": {
			API:         APIMistral,
			Model:       "mistral-small",
			Messages:    []Message{{Role: RoleUser, Content: "Summarize: " + PlaceholderToken}},
			Temperature: &temp,
		},
	}

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := map[string]Prompt{}
	if _, err := toml.Decode(string(b), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
	if out["cold"].Temperature == nil || *out["cold"].Temperature != 0 {
		t.Fatalf("temperature 0 must survive, got %v", out["cold"].Temperature)
	}
}

func TestLoadMalformedFileIsParseError(t *testing.T) {
	s := New(t.TempDir())
	if err := os.WriteFile(s.APIConfigsPath(), []byte("[openai\nurl = "), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := s.LoadAPIConfigs()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Path != s.APIConfigsPath() {
		t.Fatalf("unexpected path %q", perr.Path)
	}
}

func TestLoadPromptsRejectsUnknownAPI(t *testing.T) {
	s := New(t.TempDir())
	if err := os.WriteFile(s.PromptsPath(), []byte("[p]\napi = \"nope\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := s.LoadPrompts()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoadPromptsNormalizesAPIName(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.EnsureGenerated(); err != nil {
		t.Fatalf("ensure generated: %v", err)
	}
	if err := os.WriteFile(s.PromptsPath(), []byte("[p]\napi = \" OpenAI \"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := s.Prompt("p")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if p.API != APIOpenAI {
		t.Fatalf("expected normalized api %q, got %q", APIOpenAI, p.API)
	}
	if _, err := s.APIConfig(p.API.String()); err != nil {
		t.Fatalf("normalized api must match a config key: %v", err)
	}
}

func TestLoadMissingFileIsNotParseError(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.LoadPrompts()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		t.Fatalf("missing file must not be a ParseError")
	}
}

func TestLookupUnknownNames(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.EnsureGenerated(); err != nil {
		t.Fatalf("ensure generated: %v", err)
	}

	if _, err := s.Prompt("missing"); !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("expected ErrUnknownPrompt, got %v", err)
	}
	if _, err := s.APIConfig("missing"); !errors.Is(err, ErrUnknownAPI) {
		t.Fatalf("expected ErrUnknownAPI, got %v", err)
	}

	p, err := s.Prompt("default")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if p.API != APIOpenAI {
		t.Fatalf("unexpected api %q", p.API)
	}
}

func TestUsable(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.EnsureGenerated(); err != nil {
		t.Fatalf("ensure generated: %v", err)
	}

	ok, err := s.Usable()
	if err != nil || ok {
		t.Fatalf("defaults have no credentials, got ok=%v err=%v", ok, err)
	}

	apis := DefaultAPIConfigs()
	cfg := apis["openai"]
	cfg.APIKeyCommand = "pass show openai"
	apis["openai"] = cfg
	b, err := Encode(apis)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(s.APIConfigsPath(), b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, err = s.Usable()
	if err != nil || !ok {
		t.Fatalf("expected usable with a key command, got ok=%v err=%v", ok, err)
	}
}

func TestPromptCloneIsDeep(t *testing.T) {
	temp := 0.3
	p := Prompt{API: APIOpenAI, Messages: []Message{{Role: RoleUser, Content: "a"}}, Temperature: &temp}
	c := p.Clone()
	c.Messages[0].Content = "b"
	*c.Temperature = 0.9

	if p.Messages[0].Content != "a" || *p.Temperature != 0.3 {
		t.Fatalf("clone shares state with the original: %+v", p)
	}
}

func TestParseAPI(t *testing.T) {
	a, err := ParseAPI(" Mistral ")
	if err != nil || a != APIMistral {
		t.Fatalf("expected mistral, got %q %v", a, err)
	}
	if _, err := ParseAPI("bard"); err == nil {
		t.Fatalf("expected error for unknown api")
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
