package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignState represents the lifecycle state of a dispatch run.
type CampaignState string

const (
	StateIdle      CampaignState = "IDLE"
	StateRunning   CampaignState = "RUNNING"
	StateCompleted CampaignState = "COMPLETED"
	StateCancelled CampaignState = "CANCELLED"
	StateFailed    CampaignState = "FAILED"
)

func (s CampaignState) String() string { return string(s) }

func (s CampaignState) IsValid() bool {
	switch s {
	case StateIdle, StateRunning, StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a new campaign may be started from this state.
func (s CampaignState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

func ParseCampaignStateFromString(s string) (CampaignState, error) {
	st := CampaignState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign state %q", ErrValidation, s)
	}
	return st, nil
}

// MaxMessageBody is the longest message body accepted for a campaign.
// Longer bodies are segmented by the provider; the engine does not split them.
const MaxMessageBody = 1600

// Campaign is one dispatch run over a fixed recipient set and message body.
// Recipients are expected to be canonicalized (deduplicated, sorted) before Start.
type Campaign struct {
	Body        string
	From        string
	CallbackURL string
	Recipients  []string
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: message body is required", ErrValidation)
	}
	if strings.TrimSpace(c.From) == "" {
		return fmt.Errorf("%w: from number is required", ErrValidation)
	}
	if strings.TrimSpace(c.CallbackURL) == "" {
		return fmt.Errorf("%w: callback URL is required", ErrValidation)
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}

	if bodyLen := len([]rune(c.Body)); bodyLen > MaxMessageBody {
		return fmt.Errorf("%w: message body exceeds %d characters (got %d)", ErrValidation, MaxMessageBody, bodyLen)
	}

	return nil
}

// Progress is the transient per-campaign counter published to observers.
// Percent is monotonically non-decreasing within one run and reaches exactly
// 100 only after the last recipient has been processed.
type Progress struct {
	Completed     int     `json:"completed"`
	Total         int     `json:"total"`
	Percent       float64 `json:"percent"`
	LastRecipient string  `json:"lastRecipient,omitempty"`
}

// CampaignStatus is a point-in-time snapshot of the current or last run.
type CampaignStatus struct {
	ID         string        `json:"campaignId"`
	State      CampaignState `json:"state"`
	Progress   Progress      `json:"progress"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Err        string        `json:"error,omitempty"`
}
