// Package prompt turns a stored prompt template into the message list that is
// sent to a provider. Nothing in here performs I/O except LoadContext.
package prompt

import (
	"fmt"
	"strings"

	"github.com/efugier/pipelm/internal/configfile"
)

// Policy decides what happens when no message carries the placeholder token.
type Policy string

const (
	PolicyAppend Policy = "append"
	PolicyIgnore Policy = "ignore"
	PolicyError  Policy = "error"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAppend, nil
	case PolicyAppend, PolicyIgnore, PolicyError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown placeholder policy %q", s)
	}
}

type MissingModelError struct {
	API configfile.API
}

func (e *MissingModelError) Error() string {
	return fmt.Sprintf("model must be set in the prompt or as default_model of api %q", e.API)
}

type MissingPlaceholderError struct{}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("no message contains the placeholder %s", configfile.PlaceholderToken)
}

// Resolved is a prompt after model defaulting and input substitution.
type Resolved struct {
	api         configfile.API
	model       string
	messages    []configfile.Message
	temperature *float64
}

func (r Resolved) API() configfile.API { return r.api }

func (r Resolved) Model() string { return r.model }

func (r Resolved) Messages() []configfile.Message {
	out := make([]configfile.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r Resolved) Temperature() (float64, bool) {
	if r.temperature == nil {
		return 0, false
	}
	return *r.temperature, true
}

func Resolve(p configfile.Prompt, cfg configfile.APIConfig, input string, policy Policy) (Resolved, error) {
	p = p.Clone()

	if p.Model == "" {
		p.Model = cfg.DefaultModel
	}
	if p.Model == "" && p.API.RequiresModel() {
		return Resolved{}, &MissingModelError{API: p.API}
	}

	messages, err := substitute(p.Messages, input, policy)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{
		api:         p.API,
		model:       p.Model,
		messages:    messages,
		temperature: p.Temperature,
	}, nil
}

func substitute(messages []configfile.Message, input string, policy Policy) ([]configfile.Message, error) {
	for i := range messages {
		if strings.Contains(messages[i].Content, configfile.PlaceholderToken) {
			messages[i].Content = strings.Replace(messages[i].Content, configfile.PlaceholderToken, input, 1)
			return messages, nil
		}
	}

	switch policy {
	case PolicyIgnore:
		return messages, nil
	case PolicyError:
		return nil, &MissingPlaceholderError{}
	default:
		return append(messages, configfile.Message{Role: configfile.RoleUser, Content: input}), nil
	}
}
