package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/efugier/pipelm/internal/configfile"
)

// Overrides come from the command line and win over the stored prompt.
type Overrides struct {
	API         configfile.API
	Model       string
	Temperature *float64
	System      string
	Instruction string
	Context     string
}

func Customize(p configfile.Prompt, o Overrides) configfile.Prompt {
	p = p.Clone()

	if o.API != "" && o.API != p.API {
		p.API = o.API
		// a model name rarely carries over to another api
		p.Model = ""
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != nil {
		t := *o.Temperature
		p.Temperature = &t
	}
	if o.System != "" {
		if len(p.Messages) > 0 && p.Messages[0].Role == configfile.RoleSystem {
			p.Messages[0].Content = o.System
		} else {
			p.Messages = append([]configfile.Message{{Role: configfile.RoleSystem, Content: o.System}}, p.Messages...)
		}
	}
	if o.Context != "" {
		p.Messages = append(p.Messages, configfile.Message{Role: configfile.RoleUser, Content: o.Context})
	}
	if o.Instruction != "" {
		p.Messages = append(p.Messages, configfile.Message{Role: configfile.RoleUser, Content: o.Instruction})
	}
	return p
}

// LoadContext reads every file matching a doublestar glob and renders them as
// fenced blocks, one per file, in path order.
func LoadContext(pattern string) (string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", fmt.Errorf("expand context glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var b strings.Builder
	files := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat context file: %w", err)
		}
		if info.IsDir() {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read context file: %w", err)
		}
		if files > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "```%s\n%s\n```\n", path, strings.TrimRight(string(content), "\n"))
		files++
	}
	if files == 0 {
		return "", fmt.Errorf("context glob %q matched no files", pattern)
	}
	return b.String(), nil
}
