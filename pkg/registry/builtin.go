package registry

// builtinDefinitions seeds the registry with a small always-available
// set that a deployment can extend (never replace outright) by dropping
// YAML files into configDir/agents/. These are deliberately generic —
// concrete agent rosters are a deployment's config, not this engine's.
var builtinDefinitions = []Definition{
	{
		AgentID:      "data-collector",
		Version:      "1",
		Description:  "Gathers raw evidence relevant to the task from available tools.",
		Capabilities: []string{"collect"},
		Instruction:  "Collect all data relevant to the task. Call every tool that could plausibly help before concluding.",
	},
	{
		AgentID:      "analyzer",
		Version:      "1",
		Description:  "Analyzes collected evidence and proposes a conclusion.",
		Capabilities: []string{"analyze"},
		Instruction:  "Analyze the data gathered so far and produce a reasoned conclusion with supporting evidence.",
	},
	{
		AgentID:      "validator",
		Version:      "1",
		Description:  "Validates a proposed conclusion against the original evidence.",
		Capabilities: []string{"validate"},
		Instruction:  "Check the proposed conclusion against the evidence. Flag any unsupported claims.",
	},
}
