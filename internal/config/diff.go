package config

import (
	"reflect"
	"slices"
)

// Diff describes what changed between two configs and whether the changes
// can take effect without a restart.
type Diff struct {
	// LogLevelChanged is set when logging.level differs; NewLevel carries
	// the new value. Applied live through the process level var.
	LogLevelChanged bool
	NewLevel        LogLevel

	// PersonaChanged is set when llm.persona_prompt differs.
	PersonaChanged bool

	// PromptsChanged is set when llm.user_prompt_template or
	// llm.idle_prompt differ.
	PromptsChanged bool

	// ResponseChanceChanged is set when chat.response_chance differs;
	// NewResponseChance carries the new value.
	ResponseChanceChanged bool
	NewResponseChance     float64

	// LexiconChanged is set when stt.lexicon differs.
	LexiconChanged bool

	// RestartRequired is set when anything outside the fields above
	// differs; those changes only apply on the next start.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.PromptsChanged ||
		d.ResponseChanceChanged || d.LexiconChanged || d.RestartRequired
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLevel = new.Logging.Level
	}
	if old.LLM.PersonaPrompt != new.LLM.PersonaPrompt {
		d.PersonaChanged = true
	}
	if old.LLM.UserPromptTemplate != new.LLM.UserPromptTemplate ||
		old.LLM.IdlePrompt != new.LLM.IdlePrompt {
		d.PromptsChanged = true
	}
	if old.Chat.ResponseChance != new.Chat.ResponseChance {
		d.ResponseChanceChanged = true
		d.NewResponseChance = new.Chat.ResponseChance
	}
	if !slices.Equal(old.STT.Lexicon, new.STT.Lexicon) {
		d.LexiconChanged = true
	}

	// Everything else needs a restart. Blank the tracked fields on copies
	// and compare what remains.
	oc, nc := *old, *new
	for _, c := range []*Config{&oc, &nc} {
		c.Logging.Level = ""
		c.LLM.PersonaPrompt = ""
		c.LLM.UserPromptTemplate = ""
		c.LLM.IdlePrompt = ""
		c.Chat.ResponseChance = 0
		c.STT.Lexicon = nil
	}
	if !reflect.DeepEqual(oc, nc) {
		d.RestartRequired = true
	}

	return d
}
