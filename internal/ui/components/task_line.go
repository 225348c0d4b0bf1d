package components

import (
	"fmt"
	"strings"

	"github.com/ldi/fieldops/pkg/models"
)

func StatusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusDone:
		return "✓"
	case models.TaskStatusInProgress:
		return "▶"
	case models.TaskStatusBlocked:
		return "■"
	default:
		return "○"
	}
}

// TaskLine renders a task as a single plain line for list output.
func TaskLine(t *models.FieldTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-36s  %-28s  %-11s  %s/%s",
		StatusIcon(t.Status), t.ID, t.Title, t.Stakeholder, t.SiteID, t.RoomID)

	var badges []string
	if t.IsFlagged() {
		badges = append(badges, "flagged: "+t.Flag.Reason)
	}
	if t.IsBlocked() {
		badges = append(badges, "blocked: "+t.Block.Reason)
	}
	if n := len(t.MediaIDs); n > 0 {
		badges = append(badges, fmt.Sprintf("%d photos", n))
	}
	if n := len(t.Notes); n > 0 {
		badges = append(badges, fmt.Sprintf("%d notes", n))
	}
	if len(badges) > 0 {
		b.WriteString("  [" + strings.Join(badges, ", ") + "]")
	}
	return b.String()
}
