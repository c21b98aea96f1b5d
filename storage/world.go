// Package storage provides world-state persistence for campaigns.
//
// Information Hiding:
// - Tool handlers see WorldTx only; commit and rollback belong to WorldStore
// - Row layout and JSON column encoding stay inside the SQLite implementation

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a named world entity does not exist.
var ErrNotFound = errors.New("not found")

// Campaign is one persisted game world. Its ID doubles as the memory scope.
type Campaign struct {
	ID           string    `json:"id"`
	Genre        string    `json:"genre"`
	Tone         string    `json:"tone"`
	WorldIntro   string    `json:"world_intro"`
	Realism      bool      `json:"realism"`
	PowerFantasy bool      `json:"power_fantasy"`
	CreatedAt    time.Time `json:"created_at"`
}

// PlayerState is the single player character of a campaign.
type PlayerState struct {
	CampaignID  string         `json:"campaign_id"`
	Name        string         `json:"name"`
	Race        string         `json:"race"`
	Class       string         `json:"class"`
	Backstory   string         `json:"backstory"`
	Attributes  map[string]int `json:"attributes"`
	Skills      map[string]int `json:"skills"`
	Inventory   []string       `json:"inventory"`
	Limitations []string       `json:"limitations"`
}

// NPC is a non-player character.
type NPC struct {
	ID         int64  `json:"id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	Motivation string `json:"motivation"`
	Location   string `json:"location"`
}

// Quest statuses used by the narrator.
const (
	QuestActive    = "active"
	QuestCompleted = "completed"
	QuestFailed    = "failed"
)

// Quest is a tracked objective.
type Quest struct {
	ID          int64  `json:"id"`
	CampaignID  string `json:"campaign_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// WorldFlag is a key/value fact about the world.
type WorldFlag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Rumor is hearsay circulating in the world.
type Rumor struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalEntry is a narrative summary of recent events.
type JournalEntry struct {
	ID         int64     `json:"id"`
	CampaignID string    `json:"campaign_id"`
	TurnNumber int       `json:"turn_number"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// DialogueContext is the last conversation state with one NPC.
type DialogueContext struct {
	CampaignID string    `json:"campaign_id"`
	NPCName    string    `json:"npc_name"`
	Topic      string    `json:"topic"`
	Summary    string    `json:"summary"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Turn is one completed exchange between player and narrator.
type Turn struct {
	ID          int64     `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Number      int       `json:"number"`
	PlayerInput string    `json:"player_input"`
	Narration   string    `json:"narration"`
	Prompt      string    `json:"prompt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorldTx is the view of world state available inside one transaction.
// Lookups by name return ErrNotFound (wrapped) when nothing matches.
type WorldTx interface {
	CreateCampaign(ctx context.Context, c Campaign) (Campaign, error)
	Campaign(ctx context.Context, id string) (Campaign, error)

	SavePlayer(ctx context.Context, p PlayerState) error
	Player(ctx context.Context, campaignID string) (PlayerState, error)

	AddNPC(ctx context.Context, n NPC) (NPC, error)
	NPCByName(ctx context.Context, campaignID, name string) (NPC, error)
	UpdateNPC(ctx context.Context, n NPC) error
	NPCs(ctx context.Context, campaignID string) ([]NPC, error)

	AddQuest(ctx context.Context, q Quest) (Quest, error)
	SetQuestStatus(ctx context.Context, campaignID, name, status string) error
	Quests(ctx context.Context, campaignID string) ([]Quest, error)

	SetFlag(ctx context.Context, campaignID, key, value string) error
	Flags(ctx context.Context, campaignID string) ([]WorldFlag, error)

	AddRumor(ctx context.Context, campaignID, content string, confirmed bool) (Rumor, error)
	Rumors(ctx context.Context, campaignID string) ([]Rumor, error)

	AddJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	JournalEntries(ctx context.Context, campaignID string) ([]JournalEntry, error)

	SaveDialogueContext(ctx context.Context, d DialogueContext) error
	DialogueContexts(ctx context.Context, campaignID string) ([]DialogueContext, error)

	AppendTurn(ctx context.Context, t Turn) (Turn, error)
	RecentTurns(ctx context.Context, campaignID string, limit int) ([]Turn, error)
	TurnCount(ctx context.Context, campaignID string) (int, error)
}

// WorldStore owns world state. WithTx runs fn inside a transaction that is
// committed when fn returns nil and rolled back on error or panic.
type WorldStore interface {
	WithTx(ctx context.Context, fn func(tx WorldTx) error) error
	Campaigns(ctx context.Context) ([]Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error
	// ResetCampaign clears the campaign's world state and history but
	// keeps the campaign and its player character.
	ResetCampaign(ctx context.Context, id string) error
}
