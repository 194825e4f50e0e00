package model

import "time"

// Project is the minimum the messaging core needs: ownership for the
// freelancer dashboard and the share token clients present for access.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FreelancerID string    `json:"freelancer_id"`
	ShareToken   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
