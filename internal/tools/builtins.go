package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/moksori-live/moksori/pkg/avatar"
	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/types"
)

// memoryCategories are the labels the distillation prompt asks the model to
// pick from.
var memoryCategories = []string{
	"user_preference",
	"personal_info",
	"important_event",
	"relationship",
	"context",
}

// SaveCoreMemory returns the builtin that persists a distilled fact to the
// core store.
//
// An off-taxonomy importance level falls back to medium and an off-taxonomy
// category to context; a mislabelled memory is worth more than a dropped
// one. An empty memory_text is rejected. The entry's timestamp is left for
// the store to stamp.
func SaveCoreMemory(store memory.CoreStore) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{
			Name:        "save_core_memory",
			Description: "Save an important piece of information to permanent core memory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"memory_text": map[string]any{
						"type":        "string",
						"description": "The information to remember, summarized concisely.",
					},
					"importance_level": map[string]any{
						"type": "string",
						"enum": []string{
							memory.ImportanceCritical,
							memory.ImportanceHigh,
							memory.ImportanceMedium,
						},
					},
					"category": map[string]any{
						"type": "string",
						"enum": memoryCategories,
					},
				},
				"required": []string{"memory_text", "importance_level", "category"},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var req struct {
				MemoryText      string `json:"memory_text"`
				ImportanceLevel string `json:"importance_level"`
				Category        string `json:"category"`
			}
			if err := json.Unmarshal([]byte(args), &req); err != nil {
				return "", fmt.Errorf("tools: save_core_memory args: %w", err)
			}
			text := strings.TrimSpace(req.MemoryText)
			if text == "" {
				return "", errors.New("tools: save_core_memory needs a memory_text")
			}

			e := memory.CoreEntry{
				MemoryText:      text,
				ImportanceLevel: normalizeImportance(req.ImportanceLevel),
				Category:        normalizeCategory(req.Category),
			}
			if err := store.Append(ctx, e); err != nil {
				return "", fmt.Errorf("tools: save core memory: %w", err)
			}
			return "core memory saved", nil
		},
	}
}

// TriggerAvatarHotkey returns the builtin that fires an avatar hotkey,
// letting the model switch expressions or play an animation.
func TriggerAvatarHotkey(trigger avatar.HotkeyTrigger) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{
			Name:        "trigger_avatar_hotkey",
			Description: "Fire an avatar hotkey to change expression or play an animation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"hotkey_id": map[string]any{
						"type":        "string",
						"description": "Hotkey id or name as configured in the avatar software.",
					},
				},
				"required": []string{"hotkey_id"},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var req struct {
				HotkeyID string `json:"hotkey_id"`
			}
			if err := json.Unmarshal([]byte(args), &req); err != nil {
				return "", fmt.Errorf("tools: trigger_avatar_hotkey args: %w", err)
			}
			if req.HotkeyID == "" {
				return "", errors.New("tools: trigger_avatar_hotkey needs a hotkey_id")
			}
			if err := trigger.TriggerHotkey(ctx, req.HotkeyID); err != nil {
				return "", fmt.Errorf("tools: trigger hotkey %q: %w", req.HotkeyID, err)
			}
			return "hotkey " + req.HotkeyID + " triggered", nil
		},
	}
}

func normalizeImportance(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case memory.ImportanceCritical:
		return memory.ImportanceCritical
	case memory.ImportanceHigh:
		return memory.ImportanceHigh
	default:
		return memory.ImportanceMedium
	}
}

func normalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if slices.Contains(memoryCategories, c) {
		return c
	}
	return "context"
}
