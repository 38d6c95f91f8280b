package id

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// legSeparator joins a group id and the leg suffix of a posting id.
const legSeparator = "."

// New returns a random identifier for drafts, entries and upload groups.
func New() string {
	return uuid.NewString()
}

// NewGroupID returns a posting group id like "2025-01-3f9a1c2e07b4".
func NewGroupID(date time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return FormatGroupID(date.Year(), int(date.Month()), token)
}

// FormatGroupID returns a group id like "2025-01-<token>".
func FormatGroupID(year, month int, token string) string {
	return fmt.Sprintf("%04d-%02d-%s", year, month, token)
}

// FormatPostingID returns a posting id like "2025-01-3f9a1c2e07b4.a" (leg 0='a', 1='b', 26='aa').
func FormatPostingID(groupID string, leg int) string {
	return groupID + legSeparator + legSuffix(leg)
}

func legSuffix(leg int) string {
	s := ""
	for {
		s = string(rune('a'+leg%26)) + s
		leg = leg/26 - 1
		if leg < 0 {
			return s
		}
	}
}

// ParseGroupID parses "2025-01-<token>" into year and month.
func ParseGroupID(groupID string) (year, month int, err error) {
	base := GroupOf(groupID)

	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 || parts[2] == "" {
		return 0, 0, fmt.Errorf("invalid group ID format: %q", groupID)
	}

	year, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year in group ID %q: %w", groupID, err)
	}

	month, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month in group ID %q: %w", groupID, err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("month out of range in group ID %q", groupID)
	}

	return year, month, nil
}

// GroupOf strips the leg suffix from a posting id.
// "2025-01-3f9a1c2e07b4.b" -> "2025-01-3f9a1c2e07b4"
func GroupOf(postingID string) string {
	if i := strings.LastIndex(postingID, legSeparator); i >= 0 {
		return postingID[:i]
	}
	return postingID
}
