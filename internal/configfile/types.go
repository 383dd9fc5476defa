package configfile

import (
	"fmt"
	"strings"
)

// PlaceholderToken marks where the caller's input is inserted into a prompt.
const PlaceholderToken = "#[<input>]"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type API string

const (
	APIOpenAI    API = "openai"
	APIMistral   API = "mistral"
	APIAnthropic API = "anthropic"
	APIGroq      API = "groq"
	APIOllama    API = "ollama"
)

// APIs lists every known API in a stable order.
func APIs() []API {
	return []API{APIOpenAI, APIMistral, APIAnthropic, APIGroq, APIOllama}
}

func ParseAPI(s string) (API, error) {
	v := API(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range APIs() {
		if a == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown api %q", s)
}

func (a API) String() string { return string(a) }

// RequiresModel reports whether requests to a need an explicit model name.
func (a API) RequiresModel() bool {
	switch a {
	case APIOpenAI, APIMistral, APIAnthropic, APIGroq, APIOllama:
		return true
	default:
		return false
	}
}

type APIConfig struct {
	URL           string `toml:"url"`
	APIKey        string `toml:"api_key,omitempty"`
	APIKeyCommand string `toml:"api_key_command,omitempty"`
	DefaultModel  string `toml:"default_model,omitempty"`
}

// HasCredentialSource reports whether a key or a key command is configured.
func (c APIConfig) HasCredentialSource() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.APIKeyCommand) != ""
}

type Message struct {
	Role    string `toml:"role" json:"role" yaml:"role"`
	Content string `toml:"content" json:"content" yaml:"content"`
}

type Prompt struct {
	API         API       `toml:"api" yaml:"api"`
	Model       string    `toml:"model,omitempty" yaml:"model,omitempty"`
	Messages    []Message `toml:"messages,omitempty" yaml:"messages,omitempty"`
	Temperature *float64  `toml:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// Clone returns a deep copy so callers can mutate messages freely.
func (p Prompt) Clone() Prompt {
	out := p
	if p.Messages != nil {
		out.Messages = make([]Message, len(p.Messages))
		copy(out.Messages, p.Messages)
	}
	if p.Temperature != nil {
		t := *p.Temperature
		out.Temperature = &t
	}
	return out
}

func DefaultAPIConfig(api API) APIConfig {
	switch api {
	case APIOpenAI:
		return APIConfig{
			URL:          "https://api.openai.com/v1/chat/completions",
			DefaultModel: "gpt-4o",
		}
	case APIMistral:
		return APIConfig{
			URL:          "https://api.mistral.ai/v1/chat/completions",
			DefaultModel: "mistral-medium",
		}
	case APIAnthropic:
		return APIConfig{
			URL:          "https://api.anthropic.com/v1/messages",
			DefaultModel: "claude-3-opus-20240229",
		}
	case APIGroq:
		return APIConfig{
			URL:          "https://api.groq.com/openai/v1/chat/completions",
			DefaultModel: "llama3-70b-8192",
		}
	case APIOllama:
		return APIConfig{
			URL:          "http://localhost:11434/api/chat",
			DefaultModel: "phi3",
		}
	default:
		return APIConfig{}
	}
}

func DefaultAPIConfigs() map[string]APIConfig {
	out := make(map[string]APIConfig, len(APIs()))
	for _, a := range APIs() {
		out[a.String()] = DefaultAPIConfig(a)
	}
	return out
}

const defaultSystemPrompt = "You are an extremely skilled programmer with a keen eye for detail and an emphasis on readable code. " +
	"You have been tasked with acting as a smart version of the cat unix program. You take text and a prompt in and write text out. " +
	"For that reason, it is of crucial importance to just write the desired output. " +
	"Do not under any circumstance write any comment or thought as your output will be piped into other programs. " +
	"Do not write the markdown delimiters for code as well. " +
	"Sometimes you will be asked to implement or extend some input code. Same thing goes here, write only what was asked " +
	"because what you write will be directly added to the user's editor. Never ever write ``` around the code. " +
	"Make use of the context from the input."

func DefaultPrompt() Prompt {
	return Prompt{
		API: APIOpenAI,
		Messages: []Message{
			{Role: RoleSystem, Content: defaultSystemPrompt},
			{Role: RoleUser, Content: PlaceholderToken},
		},
	}
}

// EmptyPrompt carries no messages; the input becomes the whole conversation.
func EmptyPrompt() Prompt {
	return Prompt{API: APIOpenAI}
}

func DefaultPrompts() map[string]Prompt {
	return map[string]Prompt{
		"default": DefaultPrompt(),
		"empty":   EmptyPrompt(),
	}
}
