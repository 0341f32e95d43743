package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus      TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee    TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypePriority    TicketChangeType = "PRIORITY_CHANGE"
	ChangeTypeCategory    TicketChangeType = "CATEGORY_CHANGE"
	ChangeTypeTitle       TicketChangeType = "TITLE_CHANGE"
	ChangeTypeDescription TicketChangeType = "DESCRIPTION_CHANGE"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType MessageAuthorType
	ChangedByID   string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}

// OwnerVisibleChanges lists the change types a ticket owner may read.
var OwnerVisibleChanges = []TicketChangeType{ChangeTypeStatus, ChangeTypeAssignee}

// VisibleToOwner reports whether ticket owners may see this entry.
func (h TicketHistory) VisibleToOwner() bool {
	return h.ChangeType.In(OwnerVisibleChanges)
}

// In reports whether t is one of types. An empty list matches everything.
func (t TicketChangeType) In(types []TicketChangeType) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
