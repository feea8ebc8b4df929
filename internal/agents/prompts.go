package agents

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		if s, ok := v.(string); ok {
			return s
		}
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	},
}

var prompts = template.Must(template.New("prompts").Funcs(promptFuncs).ParseFS(promptFS, "prompts/*.tmpl"))

// promptData is the root object passed to the task agent templates.
type promptData struct {
	Inputs     map[string]any
	Additional string
}

func renderPrompt(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// AdditionalContext builds the block appended to every task prompt. It is empty
// when neither instructions nor conversation context are supplied.
func AdditionalContext(instr *state.Instructions, conversation string) string {
	var b strings.Builder
	if text := instructionText(instr); text != "" {
		b.WriteString("\n\nSpecific user instructions: ")
		b.WriteString(text)
	}
	if conversation = strings.TrimSpace(conversation); conversation != "" {
		b.WriteString("\n\nConversation context: ")
		b.WriteString(conversation)
	}
	return b.String()
}

func instructionText(instr *state.Instructions) string {
	if instr.Empty() {
		return ""
	}
	if instr.Summary != "" {
		return instr.Summary
	}
	return instr.Summarize()
}
