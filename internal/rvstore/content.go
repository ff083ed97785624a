package rvstore

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// DefaultPassword is assigned to content posted without a password. Anyone who
// knows it (which is everyone) can extend or delete such a listing.
const DefaultPassword = "public"

// Content is the user-supplied part of a listing.
type Content struct {
	Who       string `json:"who"`
	What      string `json:"what"`
	ShortDesc string `json:"shortdesc"`
	LongDesc  string `json:"longdesc"`
	Contact   string `json:"contact"`
	Password  string `json:"-"`

	// LifetimeDays is the requested lifetime exactly as submitted. It's kept
	// as a string so that a rejected value can be shown back to its author.
	LifetimeDays string `json:"-"`
}

// NewContent returns blank content with defaults filled in, suitable for
// prepopulating a new listing form.
func NewContent() *Content {
	return &Content{
		Password:     DefaultPassword,
		LifetimeDays: DefaultLifetime.String(),
	}
}

// Listing is a stored posting.
type Listing struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Content   Content   `json:"content"`
}

type lengthRule struct {
	field    string
	min, max int
	value    func(c *Content) string
}

var lengthRules = []lengthRule{
	{"Who", 2, 15, func(c *Content) string { return c.Who }},
	{"What", 2, 15, func(c *Content) string { return c.What }},
	{"Short description", 10, 200, func(c *Content) string { return c.ShortDesc }},
}

// Validate checks content against every rule and returns the parsed lifetime
// along with a message for each rule that was violated. Checking doesn't stop
// at the first failure.
func (c *Content) Validate() (Lifetime, []string) {
	var messages []string

	for _, rule := range lengthRules {
		length := utf8.RuneCountInString(rule.value(c))

		if length < rule.min {
			messages = append(messages, fmt.Sprintf("%s is too short (minimum is %d characters).", rule.field, rule.min))
		}

		if length > rule.max {
			messages = append(messages, fmt.Sprintf("%s is too long (maximum is %d characters).", rule.field, rule.max))
		}
	}

	lifetime, err := ParseLifetime(c.LifetimeDays)
	if err != nil {
		messages = append(messages, err.Error())
	}

	return lifetime, messages
}
