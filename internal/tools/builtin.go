package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noxassist/nox/internal/homeassistant"
)

// HAClient is the Home Assistant surface the built-in tools need.
// Satisfied by homeassistant.Client.
type HAClient interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Memorizer is the long-term memory surface for the remember tool.
// Satisfied by memory.Store.
type Memorizer interface {
	Add(ctx context.Context, text string) error
}

// RegisterHomeAssistant adds the device-control tools backed by ha.
func RegisterHomeAssistant(r *Registry, ha HAClient) error {
	err := r.Register(&Tool{
		Definition: Definition{
			Name:        "ha_control",
			Description: "Control devices or read their state via Home Assistant. Use action \"get_state\" to check an entity, or \"call_service\" with a service name (e.g. turn_on, turn_off, lock) to act on it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type":        "string",
						"description": "Either \"call_service\" or \"get_state\"",
					},
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The target entity ID (e.g. light.living_room, lock.front_door)",
					},
					"service": map[string]any{
						"type":        "string",
						"description": "Service to call when action is call_service (e.g. turn_on, turn_off)",
					},
					"service_data": map[string]any{
						"type":        "object",
						"description": "Additional service data (e.g. brightness, temperature)",
					},
				},
				"required": []string{"action", "entity_id"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return handleHAControl(ctx, ha, args)
		},
	})
	if err != nil {
		return err
	}

	return r.Register(&Tool{
		Definition: Definition{
			Name:        "list_entities",
			Description: "List Home Assistant entities in a domain (e.g. all lights, all sensors). Use this to discover what exists before controlling it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "The domain to list (e.g. light, switch, sensor, climate)",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of entities to return (default 20)",
					},
				},
				"required": []string{"domain"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return handleListEntities(ctx, ha, args)
		},
	})
}

// RegisterMemory adds the explicit remember tool backed by store.
func RegisterMemory(r *Registry, store Memorizer) error {
	return r.Register(&Tool{
		Definition: Definition{
			Name:        "remember",
			Description: "Save an important fact to long-term memory so it can be recalled in future conversations (e.g. the user's preferences or routines).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{
						"type":        "string",
						"description": "The fact to remember, phrased as a complete sentence",
					},
				},
				"required": []string{"fact"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			fact, _ := args["fact"].(string)
			if strings.TrimSpace(fact) == "" {
				return "", fmt.Errorf("fact is required")
			}
			if err := store.Add(ctx, fact); err != nil {
				return "", fmt.Errorf("save fact: %w", err)
			}
			return "Noted. I'll remember that.", nil
		},
	})
}

// RegisterClock adds the current_time tool. now is injectable for tests;
// pass nil for the real clock.
func RegisterClock(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register(&Tool{
		Definition: Definition{
			Name:        "current_time",
			Description: "Get the current local date and time.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return now().Format("Monday, January 2 2006, 15:04"), nil
		},
	})
}

func handleHAControl(ctx context.Context, ha HAClient, args map[string]any) (string, error) {
	if ha == nil {
		return "", fmt.Errorf("Home Assistant not configured")
	}

	action, _ := args["action"].(string)
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return "", fmt.Errorf("entity_id is required")
	}

	switch action {
	case "get_state":
		state, err := ha.GetState(ctx, entityID)
		if err != nil {
			return "", err
		}
		return formatState(state), nil

	case "call_service":
		service, _ := args["service"].(string)
		if service == "" {
			return "", fmt.Errorf("service is required for call_service")
		}

		domain := entityDomain(entityID)
		if domain == "" {
			return "", fmt.Errorf("cannot derive domain from entity_id %q", entityID)
		}

		data := map[string]any{"entity_id": entityID}
		if extra, ok := args["service_data"].(map[string]any); ok {
			for k, v := range extra {
				data[k] = v
			}
		}

		if err := ha.CallService(ctx, domain, service, data); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully called %s.%s on %s", domain, service, entityID), nil

	default:
		return "", fmt.Errorf("unknown action %q (expected call_service or get_state)", action)
	}
}

func handleListEntities(ctx context.Context, ha HAClient, args map[string]any) (string, error) {
	if ha == nil {
		return "", fmt.Errorf("Home Assistant not configured")
	}

	domain, _ := args["domain"].(string)
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}

	limit := 20
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	states, err := ha.GetStates(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	prefix := domain + "."
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, prefix) {
			continue
		}
		name := s.EntityID
		if friendly, ok := s.Attributes["friendly_name"].(string); ok {
			name = fmt.Sprintf("%s (%s)", s.EntityID, friendly)
		}
		matches = append(matches, fmt.Sprintf("- %s: %s", name, s.State))
		if len(matches) >= limit {
			break
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No entities found in domain %q", domain), nil
	}
	return fmt.Sprintf("Found %d %s entities:\n%s", len(matches), domain, strings.Join(matches, "\n")), nil
}

// formatState renders an entity state for the LLM.
func formatState(state *homeassistant.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Entity: %s\nState: %s\n", state.EntityID, state.State)

	if name, ok := state.Attributes["friendly_name"].(string); ok {
		fmt.Fprintf(&sb, "Name: %s\n", name)
	}
	if unit, ok := state.Attributes["unit_of_measurement"].(string); ok {
		fmt.Fprintf(&sb, "Unit: %s\n", unit)
	}
	if brightness, ok := state.Attributes["brightness"].(float64); ok {
		fmt.Fprintf(&sb, "Brightness: %.0f%%\n", brightness/255*100)
	}
	if temp, ok := state.Attributes["temperature"].(float64); ok {
		fmt.Fprintf(&sb, "Temperature: %.1f\n", temp)
	}
	return sb.String()
}

// entityDomain extracts the domain from an entity_id like "light.kitchen".
func entityDomain(entityID string) string {
	i := strings.IndexByte(entityID, '.')
	if i <= 0 {
		return ""
	}
	return entityID[:i]
}
