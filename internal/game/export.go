package game

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// export appends a resolved round or the session result to the export file.
// The first round of a session writes a header with the roster.
func (e *Engine) export(ctx context.Context, ev Event) error {
	sess, err := e.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		return translate(err)
	}
	ps, err := e.store.ListParticipants(ctx, ev.SessionID)
	if err != nil {
		return translate(err)
	}
	return ExportEvent(e.exportFile, sess, ps, ev)
}

// ExportEvent appends a human readable block for ev: the result of a
// roundResolved event, or the closing line of a sessionCompleted event.
func ExportEvent(filename string, sess Session, participants []Participant, ev Event) error {
	if ev.Type != EventRoundResolved && ev.Type != EventSessionCompleted {
		return fmt.Errorf("export: unexpected event %s", ev.Type)
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.Nickname
	}
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	var sb strings.Builder
	if ev.Type == EventSessionCompleted {
		winner := "nobody"
		if ev.WinnerID != "" {
			winner = name(ev.WinnerID)
		}
		fmt.Fprintf(&sb, "Game ended at %s, winner: %s\n", ev.At.Format(exportTimeLayout), winner)
		sb.WriteString(strings.Repeat("=", 50) + "\n")
		_, err := file.WriteString(sb.String())
		return err
	}

	if ev.RoundNumber == 1 {
		if fileExists {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Drop-One Results - Session %s (%s)\n", sess.Name, sess.ID)
		if sess.StartedAt != nil {
			fmt.Fprintf(&sb, "Started: %s\n", sess.StartedAt.Format(exportTimeLayout))
		}
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")

		sb.WriteString("Players:\n")
		sorted := append([]Participant(nil), participants...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Nickname < sorted[j].Nickname })
		for _, p := range sorted {
			fmt.Fprintf(&sb, "- %s (%d lives)\n", p.Nickname, p.InitialLives)
		}
		sb.WriteString("\n")
	}

	label := "Round"
	if ev.Finals {
		label = "Finals round"
	}
	fmt.Fprintf(&sb, "%s %d: %s\n", label, ev.RoundNumber, ev.Outcome)
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	if ev.Tally != nil {
		fmt.Fprintf(&sb, "Tally: rock %d, paper %d, scissors %d\n", ev.Tally.Rock, ev.Tally.Paper, ev.Tally.Scissors)
	}
	if len(ev.LosingGestures) > 0 {
		losing := make([]string, len(ev.LosingGestures))
		for i, g := range ev.LosingGestures {
			losing[i] = string(g)
		}
		fmt.Fprintf(&sb, "Losing: %s\n", strings.Join(losing, ", "))
	}
	if len(ev.Deltas) > 0 {
		sb.WriteString("\nLives lost:\n")
		for _, d := range ev.Deltas {
			fmt.Fprintf(&sb, "- %s: -%d (%s), %d left\n", name(d.ParticipantID), d.LivesLost, d.Reason, d.LivesRemaining)
		}
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
