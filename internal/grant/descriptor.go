package grant

import (
	"enginehost/internal/config"
	"enginehost/internal/engine"
)

// Importance ranks how intrusively the host surfaces a channel's notifications.
type Importance int

const (
	ImportanceLow Importance = iota + 1
	ImportanceDefault
	ImportanceHigh
)

func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceDefault:
		return "default"
	case ImportanceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Visibility controls what the host shows on a locked screen.
type Visibility string

// Category classifies a notification for the host's ranking.
type Category string

// Priority is the per-notification priority hint.
type Priority string

const (
	VisibilityPublic Visibility = "public"
	CategoryService  Category   = "service"
	PriorityLow      Priority   = "low"
)

// MainAction is the intent action carried by the descriptor's content intent.
// Activating the notification relaunches a controller with it.
const MainAction = "main"

// Channel is the notification channel the ongoing notification is posted on.
type Channel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Importance Importance `json:"importance"`
	Vibration  bool       `json:"vibration"`
}

// Descriptor is the ongoing notification that justifies protected execution.
type Descriptor struct {
	ChannelID     string        `json:"channel_id"`
	Title         string        `json:"title"`
	Body          string        `json:"body"`
	ID            int           `json:"id"`
	Ongoing       bool          `json:"ongoing"`
	DismissOnTap  bool          `json:"dismiss_on_tap"`
	Visibility    Visibility    `json:"visibility"`
	Category      Category      `json:"category"`
	Priority      Priority      `json:"priority"`
	OnlyAlertOnce bool          `json:"only_alert_once"`
	ContentIntent engine.Intent `json:"content_intent"`
}

// IsZero reports whether d has not been built yet.
func (d Descriptor) IsZero() bool {
	return d.ChannelID == "" && d.ID == 0
}

func channelFor(cfg config.Grant) Channel {
	return Channel{
		ID:         cfg.ChannelID,
		Name:       cfg.ChannelName,
		Importance: ImportanceLow,
		Vibration:  false,
	}
}

func descriptorFor(cfg config.Grant) Descriptor {
	return Descriptor{
		ChannelID:     cfg.ChannelID,
		Title:         cfg.Title,
		Body:          cfg.Body,
		ID:            cfg.NotificationID,
		Ongoing:       true,
		DismissOnTap:  true,
		Visibility:    VisibilityPublic,
		Category:      CategoryService,
		Priority:      PriorityLow,
		OnlyAlertOnce: true,
		ContentIntent: engine.Intent{Action: MainAction},
	}
}
