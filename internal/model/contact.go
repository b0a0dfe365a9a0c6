package model

import "time"

type Contact struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	SegmentID    *int64    `json:"segment_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Segment is a lead source. Contacts belong to at most one.
type Segment struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
