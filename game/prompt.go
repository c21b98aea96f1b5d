package game

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/richinex/gamemaster/memory"
	"github.com/richinex/gamemaster/storage"
)

// worldState is the structured slice of the store a narrative prompt shows.
type worldState struct {
	Campaign storage.Campaign
	Player   *storage.PlayerState
	Recent   []storage.Turn
	Contexts []storage.DialogueContext
	NPCs     []storage.NPC
	Quests   []storage.Quest
	Flags    []storage.WorldFlag
	Turns    int
}

func loadState(ctx context.Context, tx storage.WorldTx, campaignID string, recent int) (worldState, error) {
	var (
		s   worldState
		err error
	)
	if s.Campaign, err = tx.Campaign(ctx, campaignID); err != nil {
		return s, err
	}
	switch p, err := tx.Player(ctx, campaignID); {
	case err == nil:
		s.Player = &p
	case !isNotFound(err):
		return s, err
	}
	if recent > 0 {
		if s.Recent, err = tx.RecentTurns(ctx, campaignID, recent); err != nil {
			return s, err
		}
	}
	if s.Contexts, err = tx.DialogueContexts(ctx, campaignID); err != nil {
		return s, err
	}
	if s.NPCs, err = tx.NPCs(ctx, campaignID); err != nil {
		return s, err
	}
	if s.Quests, err = tx.Quests(ctx, campaignID); err != nil {
		return s, err
	}
	if s.Flags, err = tx.Flags(ctx, campaignID); err != nil {
		return s, err
	}
	if s.Turns, err = tx.TurnCount(ctx, campaignID); err != nil {
		return s, err
	}
	return s, nil
}

// buildPrompt assembles the user message for one narrative turn. Every
// section is always present, empty when there is nothing to show, so the
// model sees a stable layout.
func buildPrompt(input string, s worldState, memories []memory.MemoryChunk) string {
	var dialogue []string
	for _, t := range s.Recent {
		if t.PlayerInput != "" {
			dialogue = append(dialogue, "Player: "+t.PlayerInput)
		}
		dialogue = append(dialogue, "GM: "+t.Narration)
	}

	var recalled []string
	for _, m := range memories {
		recalled = append(recalled, strings.TrimSpace(m.Text))
	}

	var contexts []string
	for _, c := range s.Contexts {
		if c.Summary == "" {
			continue
		}
		contexts = append(contexts, fmt.Sprintf("%s: Last topic was '%s'. Recent: %q", c.NPCName, c.Topic, c.Summary))
	}

	var npcs []string
	for _, n := range s.NPCs {
		line := fmt.Sprintf("%s (%s) - %s", n.Name, n.Role, n.Status)
		if n.Motivation != "" {
			line += "; wants: " + n.Motivation
		}
		npcs = append(npcs, line)
	}

	var quests []string
	for _, q := range s.Quests {
		quests = append(quests, fmt.Sprintf("%s: %s", q.Name, q.Status))
	}

	var flags []string
	for _, f := range s.Flags {
		flags = append(flags, fmt.Sprintf("%s = %s", f.Key, f.Value))
	}

	sections := []string{
		section("Player Input", strings.TrimSpace(input)),
		section("Recent Dialogue", strings.Join(dialogue, "\n")),
		section("Relevant Memory", strings.Join(recalled, "\n")),
		section("NPC Dialogue Contexts", strings.Join(contexts, "\n")),
		section("NPCs", strings.Join(npcs, "\n")),
		section("Quests", strings.Join(quests, "\n")),
		section("World Flags", strings.Join(flags, "\n")),
		section("Player Character", describePlayer(s.Player)),
		section("Session Config", fmt.Sprintf("Genre: %s\nTone: %s\nRealism: %t\nPower Fantasy: %t",
			s.Campaign.Genre, s.Campaign.Tone, s.Campaign.Realism, s.Campaign.PowerFantasy)),
	}
	return strings.Join(sections, "\n\n")
}

func section(title, body string) string {
	return "[" + title + "]\n" + body
}

func describePlayer(p *storage.PlayerState) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nRace: %s\nClass: %s", p.Name, p.Race, p.Class)
	if len(p.Attributes) > 0 {
		fmt.Fprintf(&b, "\nAttributes: %s", scores(p.Attributes))
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "\nSkills: %s", scores(p.Skills))
	}
	if len(p.Inventory) > 0 {
		fmt.Fprintf(&b, "\nInventory: %s", strings.Join(p.Inventory, ", "))
	}
	if len(p.Limitations) > 0 {
		fmt.Fprintf(&b, "\nLimitations: %s", strings.Join(p.Limitations, ", "))
	}
	return b.String()
}

// scores renders a score map in name order.
func scores(m map[string]int) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s %d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func openingPrompt(s worldState) string {
	return strings.Join([]string{
		openingRequest,
		section("World", s.Campaign.WorldIntro),
		section("Player Character", describePlayer(s.Player)),
		section("Session Config", fmt.Sprintf("Genre: %s\nTone: %s", s.Campaign.Genre, s.Campaign.Tone)),
	}, "\n\n")
}

// simulationPrompt shows recent turns and the mutable world state.
func simulationPrompt(s worldState) string {
	var turns []string
	for _, t := range s.Recent {
		turns = append(turns, fmt.Sprintf("Turn %d: Player - %s / GM - %s",
			t.Number, strings.TrimSpace(t.PlayerInput), strings.TrimSpace(t.Narration)))
	}
	var flags, quests, npcs []string
	for _, f := range s.Flags {
		flags = append(flags, fmt.Sprintf("%s = %s", f.Key, f.Value))
	}
	for _, q := range s.Quests {
		quests = append(quests, fmt.Sprintf("%s: %s", q.Name, q.Status))
	}
	for _, n := range s.NPCs {
		npcs = append(npcs, fmt.Sprintf("%s (%s)", n.Name, n.Status))
	}
	return strings.Join([]string{
		section("Recent Context", strings.Join(turns, "\n")),
		section("World Flags", strings.Join(flags, "\n")),
		section("Quests", strings.Join(quests, "\n")),
		section("NPCs", strings.Join(npcs, "\n")),
		"Which flags, NPC statuses, or quests should be updated?",
	}, "\n\n")
}

func progressionPrompt(s worldState) string {
	var turns []string
	for _, t := range s.Recent {
		turns = append(turns, fmt.Sprintf("Player: %s\nGM: %s", t.PlayerInput, t.Narration))
	}
	return strings.Join([]string{
		section("Player Info", fmt.Sprintf("Name: %s\nClass: %s\nCurrent Skills: %s",
			s.Player.Name, s.Player.Class, scores(s.Player.Skills))),
		section("Recent Turns", strings.Join(turns, "\n\n")),
	}, "\n\n")
}

func progressionToolPrompt(rationale string, p *storage.PlayerState) string {
	return strings.Join([]string{
		progressionRequest,
		section("Rationale", rationale),
		section("Current Skills", scores(p.Skills)),
	}, "\n\n")
}
