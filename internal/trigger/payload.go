package trigger

import (
	"fmt"
	"strconv"
	"time"
)

// Payload is the body the webhook receives for one intent. ExecuteAt is the
// slot availability instant in epoch milliseconds, as a string.
type Payload struct {
	PrebookingID   string `json:"prebookingId"`
	BoxSubdomain   string `json:"boxSubdomain"`
	BoxAimharderID string `json:"boxAimharderId"`
	ExecuteAt      string `json:"executeAt"`
	SecurityToken  string `json:"securityToken"`
}

func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ExecuteTime parses ExecuteAt.
func (p Payload) ExecuteTime() (time.Time, error) {
	ms, err := strconv.ParseInt(p.ExecuteAt, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, fmt.Errorf("executeAt %q is not epoch milliseconds", p.ExecuteAt)
	}
	return time.UnixMilli(ms), nil
}

// Missing names the first empty required field, or "" when all are set.
func (p Payload) Missing() string {
	switch {
	case p.PrebookingID == "":
		return "prebookingId"
	case p.BoxSubdomain == "":
		return "boxSubdomain"
	case p.BoxAimharderID == "":
		return "boxAimharderId"
	case p.ExecuteAt == "":
		return "executeAt"
	case p.SecurityToken == "":
		return "securityToken"
	}
	return ""
}
