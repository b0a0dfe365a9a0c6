package model

import "time"

type StageContent struct {
	Stage       string    `json:"stage"`
	WelcomeText string    `json:"welcome_text"`
	MenuText    string    `json:"menu_text"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type FeedbackOptions struct {
	Stage     string    `json:"stage"`
	Options   [3]string `json:"options"`
	UpdatedAt time.Time `json:"updated_at"`
}
