package tools

import (
	"context"
	"fmt"
	"slices"

	"github.com/richinex/gamemaster/storage"
)

// Tool names exposed to the narrator.
const (
	UpdateQuestStatusName     = "update_quest_status"
	UpdateNPCStatusName       = "update_npc_status"
	UpdateNPCMotivationName   = "update_npc_motivation"
	CreateRumorName           = "create_rumor"
	SetWorldFlagName          = "set_world_flag"
	UpdatePlayerCharacterName = "update_player_character"
	CreateJournalEntryName    = "create_journal_entry"
	SaveDialogueContextName   = "save_dialogue_context"
	AddNPCName                = "add_npc"
	AddQuestName              = "add_quest"
	FinalizeCharacterName     = "finalize_character_and_world"
)

// Starting values for a newly finalized character.
const startingSkillScore = 15

var startingInventory = []string{"Traveler's clothes", "Backpack", "Rations (3 days)"}

// worldSpec declares a scoped, store-backed tool.
func worldSpec(name, description string, params ...Parameter) Spec {
	return Spec{
		Metadata:     Metadata{Name: name, Description: description, Parameters: params},
		NeedsScopeID: true,
		NeedsStore:   true,
	}
}

func str(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeString, Description: description, Required: required}
}

// worldTool builds a handler that decodes its arguments into A first.
func worldTool[A any](spec Spec, fn func(ctx context.Context, call Call, args A) (any, error)) Handler {
	return NewFunc(spec, func(ctx context.Context, call Call) (any, error) {
		var args A
		if err := call.Bind(&args); err != nil {
			return nil, err
		}
		return fn(ctx, call, args)
	})
}

// WorldTools returns the narrator's world-mutation tools.
func WorldTools() []Handler {
	return []Handler{
		updateQuestStatus(),
		updateNPCStatus(),
		updateNPCMotivation(),
		createRumor(),
		setWorldFlag(),
		updatePlayerCharacter(),
		createJournalEntry(),
		saveDialogueContext(),
		addNPC(),
		addQuest(),
	}
}

// SimulationTools returns the tools the off-screen world simulation may
// use: quest, NPC status and world flag updates.
func SimulationTools() []Handler {
	return []Handler{
		updateQuestStatus(),
		updateNPCStatus(),
		setWorldFlag(),
	}
}

// ProgressionTools returns the tools available when awarding character
// growth.
func ProgressionTools() []Handler {
	return []Handler{updatePlayerCharacter()}
}

// SessionZeroTools returns the tools available during character creation.
func SessionZeroTools() []Handler {
	return []Handler{finalizeCharacter()}
}

func updateQuestStatus() Handler {
	type args struct {
		QuestName string `json:"quest_name"`
		NewStatus string `json:"new_status"`
		Reason    string `json:"reason"`
	}
	spec := worldSpec(UpdateQuestStatusName,
		"Update the status of a quest (e.g. 'active', 'completed', 'failed').",
		str("quest_name", "Exact name of the quest.", true),
		str("new_status", "The new status.", true),
		str("reason", "Why the status changed.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if err := call.Store.SetQuestStatus(ctx, call.ScopeID, a.QuestName, a.NewStatus); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Quest '%s' status changed to '%s' because: %s", a.QuestName, a.NewStatus, a.Reason), nil
	})
}

// modifyNPC loads an NPC by name, applies edit and saves it.
func modifyNPC(ctx context.Context, call Call, name string, edit func(*storage.NPC)) error {
	npc, err := call.Store.NPCByName(ctx, call.ScopeID, name)
	if err != nil {
		return err
	}
	edit(&npc)
	return call.Store.UpdateNPC(ctx, npc)
}

func updateNPCStatus() Handler {
	type args struct {
		NPCName   string `json:"npc_name"`
		NewStatus string `json:"new_status"`
		Reason    string `json:"reason"`
	}
	spec := worldSpec(UpdateNPCStatusName,
		"Update an NPC's status or disposition (e.g. 'friendly', 'hostile', 'deceased', 'busy').",
		str("npc_name", "Exact name of the NPC.", true),
		str("new_status", "The new status.", true),
		str("reason", "Why the status changed.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if err := modifyNPC(ctx, call, a.NPCName, func(n *storage.NPC) { n.Status = a.NewStatus }); err != nil {
			return nil, err
		}
		return fmt.Sprintf("NPC '%s' status changed to '%s' because: %s", a.NPCName, a.NewStatus, a.Reason), nil
	})
}

func updateNPCMotivation() Handler {
	type args struct {
		NPCName       string `json:"npc_name"`
		NewMotivation string `json:"new_motivation"`
		Reason        string `json:"reason"`
	}
	spec := worldSpec(UpdateNPCMotivationName,
		"Change an NPC's core motivation after a significant character moment.",
		str("npc_name", "Exact name of the NPC.", true),
		str("new_motivation", "The new motivation.", true),
		str("reason", "What caused the change.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if err := modifyNPC(ctx, call, a.NPCName, func(n *storage.NPC) { n.Motivation = a.NewMotivation }); err != nil {
			return nil, err
		}
		return fmt.Sprintf("NPC '%s' motivation changed to '%s' because: %s", a.NPCName, a.NewMotivation, a.Reason), nil
	})
}

func createRumor() Handler {
	type args struct {
		Content     string `json:"rumor_content"`
		IsConfirmed bool   `json:"is_confirmed"`
	}
	spec := worldSpec(CreateRumorName,
		"Start a rumor NPCs may talk about after a notable event.",
		str("rumor_content", "What people are saying.", true),
		Parameter{Name: "is_confirmed", Type: TypeBoolean, Description: "Whether the rumor is true."},
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if _, err := call.Store.AddRumor(ctx, call.ScopeID, a.Content, a.IsConfirmed); err != nil {
			return nil, err
		}
		return fmt.Sprintf("A new rumor was started: '%s'.", a.Content), nil
	})
}

func setWorldFlag() Handler {
	type args struct {
		Key    string `json:"key"`
		Value  string `json:"value"`
		Reason string `json:"reason"`
	}
	spec := worldSpec(SetWorldFlagName,
		"Set or update a world flag tracking a broad change to a region or the narrative.",
		str("key", "Flag name.", true),
		str("value", "Flag value.", true),
		str("reason", "Why the flag changed.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if err := call.Store.SetFlag(ctx, call.ScopeID, a.Key, a.Value); err != nil {
			return nil, err
		}
		return fmt.Sprintf("World flag '%s' set to '%s' because: %s.", a.Key, a.Value, a.Reason), nil
	})
}

func updatePlayerCharacter() Handler {
	type args struct {
		SkillUpdates      map[string]int `json:"skill_updates"`
		NewInventoryItems []string       `json:"new_inventory_items"`
		NewLimitations    []string       `json:"new_limitations"`
	}
	spec := worldSpec(UpdatePlayerCharacterName,
		"Update the player's skills, add inventory items or add limitations.",
		Parameter{Name: "skill_updates", Type: TypeObject, Description: `Skill scores to set, e.g. {"stealth": 16}.`},
		Parameter{Name: "new_inventory_items", Type: TypeArray, Items: TypeString, Description: "Items to add."},
		Parameter{Name: "new_limitations", Type: TypeArray, Items: TypeString, Description: "Limitations to add."},
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		player, err := call.Store.Player(ctx, call.ScopeID)
		if err != nil {
			return nil, err
		}
		if player.Skills == nil {
			player.Skills = map[string]int{}
		}
		for skill, score := range a.SkillUpdates {
			player.Skills[skill] = score
		}
		player.Inventory = appendMissing(player.Inventory, a.NewInventoryItems)
		player.Limitations = appendMissing(player.Limitations, a.NewLimitations)
		if err := call.Store.SavePlayer(ctx, player); err != nil {
			return nil, err
		}
		return player, nil
	})
}

func appendMissing(list, items []string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

func createJournalEntry() Handler {
	type args struct {
		SummaryText string `json:"summary_text"`
		TurnNumber  int    `json:"turn_number"`
	}
	spec := worldSpec(CreateJournalEntryName,
		"Record a narrative journal entry summarizing recent events.",
		str("summary_text", "The journal entry.", true),
		Parameter{Name: "turn_number", Type: TypeInteger, Description: "Turn the entry refers to. Defaults to the current turn."},
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if a.TurnNumber <= 0 {
			count, err := call.Store.TurnCount(ctx, call.ScopeID)
			if err != nil {
				return nil, err
			}
			a.TurnNumber = count + 1
		}
		entry, err := call.Store.AddJournalEntry(ctx, storage.JournalEntry{
			CampaignID: call.ScopeID,
			TurnNumber: a.TurnNumber,
			Text:       a.SummaryText,
		})
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Journal entry created for turn %d.", entry.TurnNumber), nil
	})
}

func saveDialogueContext() Handler {
	type args struct {
		NPCName string `json:"npc_name"`
		Topic   string `json:"topic"`
		Summary string `json:"dialogue_summary"`
	}
	spec := worldSpec(SaveDialogueContextName,
		"Save the topic and gist of the latest conversation with an NPC.",
		str("npc_name", "Exact name of the NPC.", true),
		str("topic", "What was discussed.", true),
		str("dialogue_summary", "Short summary or key quote.", true),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		err := call.Store.SaveDialogueContext(ctx, storage.DialogueContext{
			CampaignID: call.ScopeID,
			NPCName:    a.NPCName,
			Topic:      a.Topic,
			Summary:    a.Summary,
		})
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Dialogue context with %s saved.", a.NPCName), nil
	})
}

func addNPC() Handler {
	type args struct {
		Name       string `json:"name"`
		Role       string `json:"role"`
		Status     string `json:"status"`
		Motivation string `json:"motivation"`
		Location   string `json:"location"`
	}
	spec := worldSpec(AddNPCName,
		"Introduce a new named NPC into the world.",
		str("name", "Unique name.", true),
		str("role", "Role in the world, e.g. 'innkeeper'.", true),
		str("status", "Initial status or disposition.", false),
		str("motivation", "What drives them.", false),
		str("location", "Where they can be found.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		if a.Status == "" {
			a.Status = "neutral"
		}
		return call.Store.AddNPC(ctx, storage.NPC{
			CampaignID: call.ScopeID,
			Name:       a.Name,
			Role:       a.Role,
			Status:     a.Status,
			Motivation: a.Motivation,
			Location:   a.Location,
		})
	})
}

func addQuest() Handler {
	type args struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	spec := worldSpec(AddQuestName,
		"Start tracking a new quest.",
		str("name", "Unique quest name.", true),
		str("description", "What the quest is about.", false),
	)
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		return call.Store.AddQuest(ctx, storage.Quest{
			CampaignID:  call.ScopeID,
			Name:        a.Name,
			Description: a.Description,
			Status:      storage.QuestActive,
		})
	})
}

// Finalized is the payload returned when session zero completes.
type Finalized struct {
	CampaignID string `json:"campaign_id"`
	PlayerName string `json:"player_name"`
	Genre      string `json:"genre"`
	Tone       string `json:"tone"`
	WorldIntro string `json:"world_intro"`
}

func finalizeCharacter() Handler {
	type args struct {
		Genre      string         `json:"genre"`
		Tone       string         `json:"tone"`
		WorldIntro string         `json:"world_intro"`
		PlayerName string         `json:"player_name"`
		Backstory  string         `json:"backstory"`
		Attributes map[string]int `json:"attributes"`
		Skills     []string       `json:"skills"`
	}
	spec := Spec{
		Metadata: Metadata{
			Name: FinalizeCharacterName,
			Description: "Create the world and the player's character once the player has confirmed every detail. " +
				"This ends character creation.",
			Parameters: []Parameter{
				str("genre", "Campaign genre.", true),
				str("tone", "Campaign tone.", true),
				str("world_intro", "Opening description of the world.", true),
				str("player_name", "Character name.", true),
				str("backstory", "Character backstory.", true),
				{Name: "attributes", Type: TypeObject, Description: `Attribute scores, e.g. {"strength": 12}.`, Required: true},
				{Name: "skills", Type: TypeArray, Items: TypeString, Description: "Chosen skills.", Required: true},
			},
		},
		NeedsStore: true,
		Terminal:   true,
	}
	return worldTool(spec, func(ctx context.Context, call Call, a args) (any, error) {
		campaign, err := call.Store.CreateCampaign(ctx, storage.Campaign{
			Genre:      a.Genre,
			Tone:       a.Tone,
			WorldIntro: a.WorldIntro,
		})
		if err != nil {
			return nil, err
		}

		skills := make(map[string]int, len(a.Skills))
		for _, s := range a.Skills {
			skills[s] = startingSkillScore
		}
		err = call.Store.SavePlayer(ctx, storage.PlayerState{
			CampaignID:  campaign.ID,
			Name:        a.PlayerName,
			Race:        "Not specified",
			Class:       "Not specified",
			Backstory:   a.Backstory,
			Attributes:  a.Attributes,
			Skills:      skills,
			Inventory:   slices.Clone(startingInventory),
			Limitations: []string{},
		})
		if err != nil {
			return nil, err
		}

		return Finalized{
			CampaignID: campaign.ID,
			PlayerName: a.PlayerName,
			Genre:      campaign.Genre,
			Tone:       campaign.Tone,
			WorldIntro: campaign.WorldIntro,
		}, nil
	})
}
