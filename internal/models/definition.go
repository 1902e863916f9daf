package models

// AgentDef is one record of agents.yaml. Fields the loader does not know
// about are kept on the raw record and ignored here.
type AgentDef struct {
	Role      string   `mapstructure:"role" yaml:"role"`
	Goal      string   `mapstructure:"goal" yaml:"goal"`
	Backstory string   `mapstructure:"backstory" yaml:"backstory"`
	Verbose   bool     `mapstructure:"verbose" yaml:"verbose,omitempty"`
	LLM       string   `mapstructure:"llm" yaml:"llm,omitempty"`
	Tools     []string `mapstructure:"tools" yaml:"tools,omitempty"`
}

// TaskDef is one record of tasks.yaml.
type TaskDef struct {
	Description    string `mapstructure:"description" yaml:"description"`
	ExpectedOutput string `mapstructure:"expected_output" yaml:"expected_output"`
	Agent          string `mapstructure:"agent" yaml:"agent,omitempty"`
}
