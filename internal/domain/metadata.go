package domain

// GameMetadata describes a game module. Only Name is required.
type GameMetadata struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	GameType    string     `json:"gameType,omitempty" yaml:"game_type,omitempty"`
	MinPlayers  int        `json:"minPlayers,omitempty" yaml:"min_players,omitempty"`
	MaxPlayers  int        `json:"maxPlayers,omitempty" yaml:"max_players,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Difficulty  string     `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Author      string     `json:"author,omitempty" yaml:"author,omitempty"`
	Version     string     `json:"version,omitempty" yaml:"version,omitempty"`
	AIPrompts   *AIPrompts `json:"aiPrompts,omitempty" yaml:"ai_prompts,omitempty"`

	// PlayerLabels overrides the foreign module's side labels, first side first.
	PlayerLabels []string `json:"playerLabels,omitempty" yaml:"player_labels,omitempty"`
}

// AIPrompts carries game-author hints for LLM agents.
type AIPrompts struct {
	SystemPrompt     string   `json:"systemPrompt,omitempty" yaml:"system_prompt,omitempty"`
	RulesPrompt      string   `json:"rulesPrompt,omitempty" yaml:"rules_prompt,omitempty"`
	MoveFormatPrompt string   `json:"moveFormatPrompt,omitempty" yaml:"move_format_prompt,omitempty"`
	StrategicHints   []string `json:"strategicHints,omitempty" yaml:"strategic_hints,omitempty"`
	MoveExamples     []string `json:"moveExamples,omitempty" yaml:"move_examples,omitempty"`
}

// Difficulty levels accepted in metadata.
var Difficulties = []string{"easy", "medium", "hard", "expert"}
