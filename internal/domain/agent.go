package domain

import "time"

// Agent is a support staff member tickets can be assigned to.
type Agent struct {
	ID        string
	Name      string
	Email     string
	Active    bool
	CreatedAt time.Time
}
