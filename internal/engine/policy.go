package engine

import (
	"sort"

	"turnero/dispatch-service/internal/models"
)

// OrderByPriority sorts waiting tickets into claim order: ticket-type
// level ascending, then number ascending. Numbers are unique within a
// scope, so the order is total. Strict priority is deliberate; a steady
// stream of low-level tickets may starve higher levels.
func OrderByPriority(tickets []models.Ticket) []models.Ticket {
	ordered := make([]models.Ticket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TypeLevel != ordered[j].TypeLevel {
			return ordered[i].TypeLevel < ordered[j].TypeLevel
		}
		return ordered[i].Number < ordered[j].Number
	})
	return ordered
}
