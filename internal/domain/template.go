package domain

import "time"

// Template is the read-only view of an extraction template used to validate batches.
type Template struct {
	ID        string
	UserID    string
	Name      string
	Public    bool
	CreatedAt time.Time
}

// AccessibleBy reports whether userID may run batches with the template.
func (t *Template) AccessibleBy(userID string) bool {
	if t == nil {
		return false
	}
	return t.Public || t.UserID == userID
}
