package drive

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/pkg/calendar"
)

// MinLeadDays is how far ahead a drive must be scheduled.
const MinLeadDays = 15

// Drive is a scheduled vaccination event. AvailableDoses is decremented by
// recorded vaccinations and restored when they are removed; it never goes
// below zero. ApplicableClasses is stored as a comma-separated list.
type Drive struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Date              time.Time `json:"date"`
	AvailableDoses    int       `json:"availableDoses"`
	ApplicableClasses string    `json:"applicableClasses"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MarshalJSON renders Date as a calendar day.
func (d Drive) MarshalJSON() ([]byte, error) {
	type alias Drive
	return json.Marshal(struct {
		alias
		Date calendar.Date `json:"date"`
	}{alias(d), calendar.NewDate(d.Date)})
}

// Classes returns the eligible class labels, trimmed, with empty segments
// dropped.
func (d *Drive) Classes() []string {
	return ParseClasses(d.ApplicableClasses)
}

// IsPast reports whether the drive's day is before today.
func (d *Drive) IsPast(today time.Time) bool {
	return calendar.Day(d.Date).Before(calendar.Day(today))
}

func ParseClasses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DoseCount decodes a dose quantity sent either as a JSON number or as a
// numeric string. Whole-valued decimals such as 5.0 are accepted. Values that
// are not whole numbers leave Valid false instead of failing the whole body,
// so the caller gets a rule message.
type DoseCount struct {
	Value int
	Valid bool
}

func (d *DoseCount) UnmarshalJSON(b []byte) error {
	*d = DoseCount{}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if s, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(raw); err == nil {
		d.Value, d.Valid = n, true
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
		d.Value, d.Valid = int(f), true
	}
	return nil
}

// ClassList decodes applicable classes sent as "5,6,7" or as an array of
// strings or numbers.
type ClassList []string

func (l *ClassList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		out := ClassList{}
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				s = string(item)
			}
			out = append(out, ParseClasses(s)...)
		}
		*l = out
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*l = ParseClasses(s)
	return nil
}

// Normalized trims every class and drops blanks. Entries may themselves
// hold comma-separated labels.
func (l ClassList) Normalized() ClassList {
	return ClassList(ParseClasses(strings.Join(l, ",")))
}

// String joins the normalized classes into the stored form.
func (l ClassList) String() string {
	return strings.Join(l.Normalized(), ",")
}

type CreateRequest struct {
	Name              string         `json:"name"`
	Date              *calendar.Date `json:"date"`
	AvailableDoses    *DoseCount     `json:"availableDoses"`
	ApplicableClasses *ClassList     `json:"applicableClasses"`
}

// UpdateRequest changes only the fields that are present. Dose inventory is
// owned by vaccination recording and cannot be edited here.
type UpdateRequest struct {
	Name              *string        `json:"name"`
	Date              *calendar.Date `json:"date"`
	ApplicableClasses *ClassList     `json:"applicableClasses"`
}

type ListFilter struct {
	// From, when set, keeps drives on or after this day.
	From *time.Time
	// To, when set, keeps drives on or before this day.
	To     *time.Time
	Search string
}
