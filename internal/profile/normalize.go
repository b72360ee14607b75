package profile

import (
	"errors"
	"fmt"
	"github.com/nyaruka/phonenumbers"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const birthdayLayout = "2006-01-02"

// ErrMissingUserID is returned when the form does not name the user to update
var ErrMissingUserID = errors.New("invalid user ID")

// mailPattern mirrors the loose "local@domain.tld" check the edit form is validated with
var mailPattern = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+`)

// ValidationError represents a form field that prevents the update from being sent
type ValidationError struct {
	Field   string
	Message string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("invalid form field '%s': %s", err.Field, err.Message)
}

// Warning represents a form field that failed validation without aborting the update
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Update is the JSON payload sent to the Graph API to update a user
type Update struct {
	MobilePhone       *string  `json:"mobilePhone"`
	BusinessPhones    []string `json:"businessPhones"`
	PreferredLanguage *string  `json:"preferredLanguage"`
	OtherMails        []string `json:"otherMails"`
}

// Normalized holds the outcome of normalizing a profile edit form
type Normalized struct {
	UserID string
	Update *Update

	// Birthday and Mail are validated but not part of the update payload
	Birthday *string
	Mail     string

	Warnings []*Warning
}

// Normalize validates and reshapes the fields of a profile edit form.
// Hard failures are returned as *ValidationError (birthday, businessPhones) or ErrMissingUserID; soft failures are
// collected as warnings.
func Normalize(form url.Values) (*Normalized, error) {
	normalized := &Normalized{
		Warnings: []*Warning{},
	}

	birthday, err := normalizeBirthday(form.Get("birthday"))
	if err != nil {
		return nil, err
	}
	normalized.Birthday = birthday

	otherMails := normalizeMailList(form.Get("otherMails"))

	normalized.Mail = strings.TrimSpace(form.Get("mail"))
	if !mailPattern.MatchString(normalized.Mail) {
		normalized.Warnings = append(normalized.Warnings, &Warning{
			Field:   "mail",
			Message: "Invalid email address.",
		})
	}

	businessPhones, err := normalizeBusinessPhones(form.Get("businessPhones"))
	if err != nil {
		return nil, err
	}

	normalized.UserID = form.Get("id")
	if normalized.UserID == "" {
		return nil, ErrMissingUserID
	}

	normalized.Update = &Update{
		MobilePhone:       optional(form.Get("mobilePhone")),
		BusinessPhones:    businessPhones,
		PreferredLanguage: optional(form.Get("preferredLanguage")),
		OtherMails:        otherMails,
	}
	return normalized, nil
}

// normalizeBirthday turns a YYYY-MM-DD date into an ISO 8601 UTC midnight timestamp
func normalizeBirthday(raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	date, err := time.Parse(birthdayLayout, raw)
	if err != nil {
		return nil, &ValidationError{
			Field:   "birthday",
			Message: "Invalid date. Please use the YYYY-MM-DD format.",
		}
	}
	formatted := date.Format("2006-01-02") + "T00:00:00Z"
	return &formatted, nil
}

// normalizeMailList splits a comma separated list and keeps every trimmed, non-empty entry containing an '@'
func normalizeMailList(raw string) []string {
	mails := []string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" && strings.Contains(entry, "@") {
			mails = append(mails, entry)
		}
	}
	return mails
}

// normalizeBusinessPhones parses an international phone number and formats it using E.164
func normalizeBusinessPhones(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	number, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return nil, &ValidationError{
			Field:   "businessPhones",
			Message: "Invalid phone number format. Please enter a valid number.",
		}
	}
	if !phonenumbers.IsValidNumber(number) {
		return nil, &ValidationError{
			Field:   "businessPhones",
			Message: "Invalid phone number.",
		}
	}
	return []string{phonenumbers.Format(number, phonenumbers.E164)}, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
