package llm

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
// Items describes array elements; Schema, when set, is used verbatim.
type ParameterProperty struct {
	Type        string
	Description string
	Enum        []string
	Items       map[string]any
	Schema      map[string]any
}

// NewToolDefinition creates a new tool definition with standard JSON Schema parameters.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		if v.Schema != nil {
			props[k] = v.Schema
			continue
		}
		prop := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			prop["enum"] = v.Enum
		}
		if v.Items != nil {
			prop["items"] = v.Items
		}
		props[k] = prop
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Tool names exposed to the planner.
const (
	ToolResolveEntities    = "resolve_entities"
	ToolListInventory      = "list_inventory"
	ToolValidateAutomation = "validate_automation"
	ToolProposeAutomation  = "propose_automation"
	ToolCreateAutomation   = "create_automation"
	ToolEditAutomation     = "edit_automation"
	ToolApproveAutomation  = "approve_automation"
	ToolRejectAutomation   = "reject_automation"
)

// IsReadOnlyTool reports whether a tool can run concurrently with other
// calls in the same round. Everything else mutates conversation state.
func IsReadOnlyTool(name string) bool {
	switch name {
	case ToolResolveEntities, ToolListInventory, ToolValidateAutomation:
		return true
	}
	return false
}

var stringArray = map[string]any{"type": "string"}

var targetedSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"targets":   map[string]any{"type": "array", "items": stringArray, "description": "Free-text device references, e.g. \"the second office light\""},
		"entity_id": map[string]any{"type": "array", "items": stringArray, "description": "Exact entity ids when already known"},
	},
}

func withTargets(extra map[string]any) map[string]any {
	props := map[string]any{}
	for k, v := range targetedSchema["properties"].(map[string]any) {
		props[k] = v
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]any{"type": "object", "properties": props}
}

// draftHintSchema describes the partial automation the planner supplies.
var draftHintSchema = map[string]any{
	"type":        "object",
	"description": "The automation to build. Devices are referenced in free text via targets.",
	"properties": map[string]any{
		"alias":       map[string]any{"type": "string", "description": "Human readable automation name"},
		"description": map[string]any{"type": "string"},
		"mode":        map[string]any{"type": "string", "enum": []string{"single", "restart", "queued", "parallel"}},
		"triggers": map[string]any{"type": "array", "items": withTargets(map[string]any{
			"platform": map[string]any{"type": "string", "enum": []string{"state", "time", "sun", "event"}},
			"to":       map[string]any{"type": "string"},
			"from":     map[string]any{"type": "string"},
			"at":       map[string]any{"type": "string", "description": "HH:MM:SS for time triggers"},
			"event":    map[string]any{"type": "string", "description": "sunrise/sunset or an event type"},
		})},
		"conditions": map[string]any{"type": "array", "items": withTargets(map[string]any{
			"condition": map[string]any{"type": "string"},
			"state":     map[string]any{"type": "string"},
			"after":     map[string]any{"type": "string"},
			"before":    map[string]any{"type": "string"},
		})},
		"actions": map[string]any{"type": "array", "items": withTargets(map[string]any{
			"service": map[string]any{"type": "string", "description": "domain.operation, e.g. light.turn_on"},
			"data":    map[string]any{"type": "object"},
		})},
		"current_turn_areas": map[string]any{"type": "array", "items": stringArray, "description": "Areas the user named in this message"},
		"history_areas":      map[string]any{"type": "array", "items": stringArray, "description": "Areas mentioned earlier in the conversation"},
	},
	"required": []string{"alias"},
}

// AutomationTools returns the tool definitions offered to the planner.
func AutomationTools() []ToolDefinition {
	return []ToolDefinition{
		NewToolDefinition(
			ToolResolveEntities,
			"Resolve free-text device references to concrete entities with confidence scores",
			map[string]ParameterProperty{
				"mentions":           {Type: "array", Description: "Device references to resolve", Items: stringArray},
				"current_turn_areas": {Type: "array", Description: "Areas named in the current message", Items: stringArray},
				"history_areas":      {Type: "array", Description: "Areas named earlier in the conversation", Items: stringArray},
			},
			[]string{"mentions"},
		),
		NewToolDefinition(
			ToolListInventory,
			"List devices in the home, optionally filtered by area or domain",
			map[string]ParameterProperty{
				"area_hint":   {Type: "string", Description: "Optional area, e.g. office"},
				"domain_hint": {Type: "string", Description: "Optional domain, e.g. light"},
			},
			nil,
		),
		NewToolDefinition(
			ToolValidateAutomation,
			"Dry-run resolution, safety checks and validation for a draft without showing it to the user",
			map[string]ParameterProperty{
				"draft_hint":        {Schema: draftHintSchema},
				"confirmation_flag": {Type: "boolean", Description: "True when the user explicitly confirmed a security-sensitive action"},
			},
			[]string{"draft_hint"},
		),
		NewToolDefinition(
			ToolProposeAutomation,
			"Build, check and validate an automation and show it to the user as a preview awaiting confirmation",
			map[string]ParameterProperty{
				"draft_hint":        {Schema: draftHintSchema},
				"confirmation_flag": {Type: "boolean", Description: "True when the user explicitly confirmed a security-sensitive action"},
				"automation_id":     {Type: "string", Description: "Existing automation this draft revises, when it will be redeployed"},
			},
			[]string{"draft_hint"},
		),
		NewToolDefinition(
			ToolCreateAutomation,
			"Create the previewed automation after the user confirmed it. Pass automation_id only to redeploy an existing automation",
			map[string]ParameterProperty{
				"proposal_id":   {Type: "string", Description: "Proposal id of the preview the user confirmed"},
				"automation_id": {Type: "string", Description: "Existing automation id to redeploy"},
			},
			[]string{"proposal_id"},
		),
		NewToolDefinition(
			ToolEditAutomation,
			"Discard the current preview because the user asked for changes; propose a revised draft afterwards",
			map[string]ParameterProperty{
				"proposal_id": {Type: "string", Description: "Proposal id of the preview being edited"},
			},
			nil,
		),
		NewToolDefinition(
			ToolApproveAutomation,
			"Approve the current preview and create the automation",
			map[string]ParameterProperty{
				"proposal_id": {Type: "string", Description: "Proposal id of the preview the user approved"},
			},
			[]string{"proposal_id"},
		),
		NewToolDefinition(
			ToolRejectAutomation,
			"Reject and discard the current preview",
			map[string]ParameterProperty{
				"proposal_id": {Type: "string", Description: "Proposal id of the preview the user rejected"},
			},
			nil,
		),
	}
}
