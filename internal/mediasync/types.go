package mediasync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PriorityClass is the urgency tier of a required media item. Lower values
// are more urgent, so classes compare with the ordinary integer operators.
type PriorityClass int

const (
	P0 PriorityClass = iota // flash sale
	P1                      // active playlist
	P2                      // upcoming schedule
	P3                      // background
)

// String renders the class as "P0".."P3"
func (p PriorityClass) String() string {
	return "P" + strconv.Itoa(int(p))
}

// Valid reports whether p is one of the defined classes
func (p PriorityClass) Valid() bool {
	return p >= P0 && p <= P3
}

// MarshalText implements encoding.TextMarshaler so JSON carries "P0".."P3"
func (p PriorityClass) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority class %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *PriorityClass) UnmarshalText(text []byte) error {
	parsed, err := ParsePriorityClass(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriorityClass parses "P0".."P3"
func ParsePriorityClass(s string) (PriorityClass, error) {
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "P") {
		return 0, fmt.Errorf("invalid priority class %q", s)
	}
	n, err := strconv.Atoi(upper[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid priority class %q", s)
	}
	p := PriorityClass(n)
	if !p.Valid() {
		return 0, fmt.Errorf("invalid priority class %q", s)
	}
	return p, nil
}

// Reason explains why a media item is required
type Reason string

const (
	ReasonFlashSale        Reason = "flash_sale"
	ReasonActivePlaylist   Reason = "active_playlist"
	ReasonUpcomingSchedule Reason = "upcoming_schedule"
	ReasonBackground       Reason = "background"
)

// reasonClasses is the ordered reason to class lookup, most urgent first
var reasonClasses = [...]struct {
	reason Reason
	class  PriorityClass
}{
	{ReasonFlashSale, P0},
	{ReasonActivePlaylist, P1},
	{ReasonUpcomingSchedule, P2},
	{ReasonBackground, P3},
}

// ClassForReason maps a reason to its priority class
func ClassForReason(r Reason) (PriorityClass, bool) {
	for _, rc := range reasonClasses {
		if rc.reason == r {
			return rc.class, true
		}
	}
	return P3, false
}

// RequiredMediaRef is one requirement emitted by one source for one media id
type RequiredMediaRef struct {
	MediaID string
	Reason  Reason
	// SourceWindow is the schedule start for upcoming_schedule refs
	// and the campaign start for flash_sale refs; zero otherwise.
	SourceWindow time.Time
	SourceID     string
}

// PlanItem is a single entry of a SyncPlan
type PlanItem struct {
	MediaID       string        `json:"media_id"`
	PriorityClass PriorityClass `json:"priority_class"`
	Reason        Reason        `json:"reason"`
	SizeBytes     int64         `json:"size_bytes"`
	Checksum      string        `json:"checksum,omitempty"`
}

// Fingerprint identifies the content the item was planned against.
// It is empty when the catalog did not describe the media.
func (i PlanItem) Fingerprint() string {
	if i.Checksum == "" && i.SizeBytes == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", i.Checksum, i.SizeBytes)
}

// SyncPlan is the ordered, deduplicated list of media a device must hold
type SyncPlan struct {
	Items []PlanItem
}

// MediaIDs returns the plan's media ids in plan order
func (p SyncPlan) MediaIDs() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.MediaID
	}
	return ids
}
