package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTx implements WorldTx over one *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var created int64
	if err := row.Scan(&c.ID, &c.Genre, &c.Tone, &c.WorldIntro, &c.Realism, &c.PowerFantasy, &created); err != nil {
		return Campaign{}, err
	}
	c.CreatedAt = unixTime(created)
	return c, nil
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// CreateCampaign inserts a campaign, assigning an ID when none is set.
func (t *sqliteTx) CreateCampaign(ctx context.Context, c Campaign) (Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, genre, tone, world_intro, realism, power_fantasy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Genre, c.Tone, c.WorldIntro, c.Realism, c.PowerFantasy, c.CreatedAt.Unix())
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}
	return c, nil
}

func (t *sqliteTx) Campaign(ctx context.Context, id string) (Campaign, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, genre, tone, world_intro, realism, power_fantasy, created_at
		FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, notFound("campaign", id)
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

// SavePlayer inserts or replaces the campaign's player.
func (t *sqliteTx) SavePlayer(ctx context.Context, p PlayerState) error {
	encoded := make([]string, 0, 4)
	for _, v := range []any{nonNilMap(p.Attributes), nonNilMap(p.Skills), nonNilSlice(p.Inventory), nonNilSlice(p.Limitations)} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode player state: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO players
		(campaign_id, name, race, class, backstory, attributes, skills, inventory, limitations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CampaignID, p.Name, p.Race, p.Class, p.Backstory,
		encoded[0], encoded[1], encoded[2], encoded[3])
	if err != nil {
		return fmt.Errorf("failed to save player: %w", err)
	}
	return nil
}

func (t *sqliteTx) Player(ctx context.Context, campaignID string) (PlayerState, error) {
	p := PlayerState{CampaignID: campaignID}
	var attrs, skills, inventory, limitations string
	err := t.tx.QueryRowContext(ctx, `
		SELECT name, race, class, backstory, attributes, skills, inventory, limitations
		FROM players WHERE campaign_id = ?`, campaignID).
		Scan(&p.Name, &p.Race, &p.Class, &p.Backstory, &attrs, &skills, &inventory, &limitations)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerState{}, notFound("player for campaign", campaignID)
	}
	if err != nil {
		return PlayerState{}, fmt.Errorf("failed to load player: %w", err)
	}

	if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
		return PlayerState{}, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
		return PlayerState{}, fmt.Errorf("failed to decode skills: %w", err)
	}
	if err := json.Unmarshal([]byte(inventory), &p.Inventory); err != nil {
		return PlayerState{}, fmt.Errorf("failed to decode inventory: %w", err)
	}
	if err := json.Unmarshal([]byte(limitations), &p.Limitations); err != nil {
		return PlayerState{}, fmt.Errorf("failed to decode limitations: %w", err)
	}
	return p, nil
}

func (t *sqliteTx) AddNPC(ctx context.Context, n NPC) (NPC, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO npcs (campaign_id, name, role, status, motivation, location)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.CampaignID, n.Name, n.Role, n.Status, n.Motivation, n.Location)
	if err != nil {
		return NPC{}, fmt.Errorf("failed to add npc: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return NPC{}, fmt.Errorf("failed to read npc id: %w", err)
	}
	return n, nil
}

const npcColumns = "id, campaign_id, name, role, status, motivation, location"

func scanNPC(row rowScanner) (NPC, error) {
	var n NPC
	err := row.Scan(&n.ID, &n.CampaignID, &n.Name, &n.Role, &n.Status, &n.Motivation, &n.Location)
	return n, err
}

func (t *sqliteTx) NPCByName(ctx context.Context, campaignID, name string) (NPC, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+npcColumns+" FROM npcs WHERE campaign_id = ? AND name = ? COLLATE NOCASE",
		campaignID, name)
	n, err := scanNPC(row)
	if errors.Is(err, sql.ErrNoRows) {
		return NPC{}, notFound("npc", name)
	}
	if err != nil {
		return NPC{}, fmt.Errorf("failed to load npc: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) UpdateNPC(ctx context.Context, n NPC) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE npcs SET role = ?, status = ?, motivation = ?, location = ?
		WHERE id = ?`, n.Role, n.Status, n.Motivation, n.Location, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update npc: %w", err)
	}
	return requireRow(res, "npc", n.Name)
}

func (t *sqliteTx) NPCs(ctx context.Context, campaignID string) ([]NPC, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+npcColumns+" FROM npcs WHERE campaign_id = ? ORDER BY id", campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query npcs: %w", err)
	}
	return collect(rows, scanNPC)
}

func (t *sqliteTx) AddQuest(ctx context.Context, q Quest) (Quest, error) {
	if q.Status == "" {
		q.Status = QuestActive
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO quests (campaign_id, name, description, status) VALUES (?, ?, ?, ?)`,
		q.CampaignID, q.Name, q.Description, q.Status)
	if err != nil {
		return Quest{}, fmt.Errorf("failed to add quest: %w", err)
	}
	q.ID, err = res.LastInsertId()
	if err != nil {
		return Quest{}, fmt.Errorf("failed to read quest id: %w", err)
	}
	return q, nil
}

func (t *sqliteTx) SetQuestStatus(ctx context.Context, campaignID, name, status string) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE quests SET status = ? WHERE campaign_id = ? AND name = ? COLLATE NOCASE",
		status, campaignID, name)
	if err != nil {
		return fmt.Errorf("failed to update quest: %w", err)
	}
	return requireRow(res, "quest", name)
}

func (t *sqliteTx) Quests(ctx context.Context, campaignID string) ([]Quest, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, campaign_id, name, description, status
		FROM quests WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quests: %w", err)
	}
	return collect(rows, func(row rowScanner) (Quest, error) {
		var q Quest
		err := row.Scan(&q.ID, &q.CampaignID, &q.Name, &q.Description, &q.Status)
		return q, err
	})
}

func (t *sqliteTx) SetFlag(ctx context.Context, campaignID, key, value string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO world_flags (campaign_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (campaign_id, key) DO UPDATE SET value = excluded.value`,
		campaignID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

func (t *sqliteTx) Flags(ctx context.Context, campaignID string) ([]WorldFlag, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT key, value FROM world_flags WHERE campaign_id = ? ORDER BY key", campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	return collect(rows, func(row rowScanner) (WorldFlag, error) {
		var f WorldFlag
		err := row.Scan(&f.Key, &f.Value)
		return f, err
	})
}

func (t *sqliteTx) AddRumor(ctx context.Context, campaignID, content string, confirmed bool) (Rumor, error) {
	r := Rumor{Content: content, Confirmed: confirmed, CreatedAt: time.Now().UTC()}
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO rumors (campaign_id, content, confirmed, created_at) VALUES (?, ?, ?, ?)",
		campaignID, content, confirmed, r.CreatedAt.Unix())
	if err != nil {
		return Rumor{}, fmt.Errorf("failed to add rumor: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return Rumor{}, fmt.Errorf("failed to read rumor id: %w", err)
	}
	return r, nil
}

func (t *sqliteTx) Rumors(ctx context.Context, campaignID string) ([]Rumor, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT id, content, confirmed, created_at FROM rumors WHERE campaign_id = ? ORDER BY id",
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rumors: %w", err)
	}
	return collect(rows, func(row rowScanner) (Rumor, error) {
		var r Rumor
		var created int64
		err := row.Scan(&r.ID, &r.Content, &r.Confirmed, &created)
		r.CreatedAt = unixTime(created)
		return r, err
	})
}

func (t *sqliteTx) AddJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO journal_entries (campaign_id, turn_number, text, created_at) VALUES (?, ?, ?, ?)",
		e.CampaignID, e.TurnNumber, e.Text, e.CreatedAt.Unix())
	if err != nil {
		return JournalEntry{}, fmt.Errorf("failed to add journal entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return JournalEntry{}, fmt.Errorf("failed to read journal id: %w", err)
	}
	return e, nil
}

func (t *sqliteTx) JournalEntries(ctx context.Context, campaignID string) ([]JournalEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, campaign_id, turn_number, text, created_at
		FROM journal_entries WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return collect(rows, func(row rowScanner) (JournalEntry, error) {
		var e JournalEntry
		var created int64
		err := row.Scan(&e.ID, &e.CampaignID, &e.TurnNumber, &e.Text, &created)
		e.CreatedAt = unixTime(created)
		return e, err
	})
}

// SaveDialogueContext upserts the context for a known NPC.
func (t *sqliteTx) SaveDialogueContext(ctx context.Context, d DialogueContext) error {
	npc, err := t.NPCByName(ctx, d.CampaignID, d.NPCName)
	if err != nil {
		return err
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO dialogue_contexts (campaign_id, npc_id, topic, summary, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, npc_id) DO UPDATE SET
			topic = excluded.topic, summary = excluded.summary, updated_at = excluded.updated_at`,
		d.CampaignID, npc.ID, d.Topic, d.Summary, d.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save dialogue context: %w", err)
	}
	return nil
}

func (t *sqliteTx) DialogueContexts(ctx context.Context, campaignID string) ([]DialogueContext, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT d.campaign_id, n.name, d.topic, d.summary, d.updated_at
		FROM dialogue_contexts d JOIN npcs n ON n.id = d.npc_id
		WHERE d.campaign_id = ? ORDER BY d.updated_at DESC, n.name`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dialogue contexts: %w", err)
	}
	return collect(rows, func(row rowScanner) (DialogueContext, error) {
		var d DialogueContext
		var updated int64
		err := row.Scan(&d.CampaignID, &d.NPCName, &d.Topic, &d.Summary, &updated)
		d.UpdatedAt = unixTime(updated)
		return d, err
	})
}

// AppendTurn records a turn with the next turn number for its campaign.
func (t *sqliteTx) AppendTurn(ctx context.Context, turn Turn) (Turn, error) {
	count, err := t.TurnCount(ctx, turn.CampaignID)
	if err != nil {
		return Turn{}, err
	}
	turn.Number = count + 1
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO turns (campaign_id, turn_number, player_input, narration, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.CampaignID, turn.Number, turn.PlayerInput, turn.Narration, turn.Prompt, turn.CreatedAt.Unix())
	if err != nil {
		return Turn{}, fmt.Errorf("failed to append turn: %w", err)
	}
	turn.ID, err = res.LastInsertId()
	if err != nil {
		return Turn{}, fmt.Errorf("failed to read turn id: %w", err)
	}
	return turn, nil
}

// RecentTurns returns up to limit latest turns in chronological order.
func (t *sqliteTx) RecentTurns(ctx context.Context, campaignID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return []Turn{}, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, campaign_id, turn_number, player_input, narration, prompt, created_at
		FROM turns WHERE campaign_id = ? ORDER BY turn_number DESC LIMIT ?`,
		campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	turns, err := collect(rows, func(row rowScanner) (Turn, error) {
		var turn Turn
		var created int64
		err := row.Scan(&turn.ID, &turn.CampaignID, &turn.Number, &turn.PlayerInput,
			&turn.Narration, &turn.Prompt, &created)
		turn.CreatedAt = unixTime(created)
		return turn, err
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (t *sqliteTx) TurnCount(ctx context.Context, campaignID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turns WHERE campaign_id = ?", campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// collect scans every row and closes rows. The result is never nil.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, kind, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(kind, name)
	}
	return nil
}

func nonNilMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ WorldTx = (*sqliteTx)(nil)
