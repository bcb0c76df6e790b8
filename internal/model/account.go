package model

// UserAccount contains the result of an API-key lookup.
type UserAccount struct {
	UserID string
	Email  string
	Status string
}
