package builtintools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/l3ocifer/ironclaw/internal/llmclient"
)

// builtinDescriptions is what the model reads when choosing a tool.
var builtinDescriptions = map[string]string{
	"memory_search": "Search long-term memory for passages matching a query.",
	"memory_get":    "Read the full long-term memory file.",
	"memory_write":  "Overwrite long-term memory with new content.",
	"task_create":   "Create a task, optionally depending on other tasks.",
	"task_update":   "Update a task's status or record its result.",
	"task_list":     "List tasks, or only those ready to start.",
	"task_export":   "Export tasks as JSONL for another machine.",
	"task_archive":  "Archive old finished tasks and summarize them.",
	"learning_add":  "Record a rule learned from experience, with evidence.",
	"learning_list": "List accumulated learnings by confidence.",
}

// builtinArgTypes pairs each tool with the argument struct Execute decodes
// its input into; nil means the tool takes no arguments.
var builtinArgTypes = map[string]any{
	"memory_search": &memorySearchArgs{},
	"memory_get":    nil,
	"memory_write":  &memoryWriteArgs{},
	"task_create":   &taskCreateArgs{},
	"task_update":   &taskUpdateArgs{},
	"task_list":     &taskListArgs{},
	"task_export":   &taskExportArgs{},
	"task_archive":  &taskArchiveArgs{},
	"learning_add":  &learningAddArgs{},
	"learning_list": &learningListArgs{},
}

// Schemas returns the tool catalog for the protected built-in operations.
// Parameter schemas are reflected from the same argument structs Execute
// decodes into, so the catalog cannot drift from the implementation.
func Schemas() []llmclient.ToolSchema {
	out := make([]llmclient.ToolSchema, 0, len(Names))
	for _, name := range Names {
		out = append(out, llmclient.ToolSchema{
			Name:        name,
			Description: builtinDescriptions[name],
			Parameters:  ParameterSchema(name),
		})
	}
	return out
}

// ParameterSchema returns the JSON Schema for one built-in tool's
// arguments, or a bare object schema for tools that take none.
func ParameterSchema(name string) json.RawMessage {
	argType, ok := builtinArgTypes[name]
	if !ok || argType == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
		// Arguments are optional unless a struct tag says otherwise; the
		// handlers validate what they actually need.
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(argType)
	schema.Version = ""
	out, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}
