package domain

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

type AnnouncementKind string

const (
	KindAnnouncement AnnouncementKind = "announcement"
	KindPromotion    AnnouncementKind = "promotion"
	KindUpdate       AnnouncementKind = "update"
	KindAlert        AnnouncementKind = "alert"
)

var AnnouncementKinds = []AnnouncementKind{KindAnnouncement, KindPromotion, KindUpdate, KindAlert}

// ParseAnnouncementKind accepts a kind name; blank means KindAnnouncement.
func ParseAnnouncementKind(s string) (AnnouncementKind, bool) {
	switch kind := AnnouncementKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case "":
		return KindAnnouncement, true
	case KindAnnouncement, KindPromotion, KindUpdate, KindAlert:
		return kind, true
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts a priority name; blank means PriorityMedium.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

const maxAnnouncementTitle = 200

// Announcement is a stored seller message. Sent and Reads count the buyers
// it reached live and the buyers who marked it read.
type Announcement struct {
	ID        string           `json:"id"`
	SellerID  string           `json:"sellerId"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      AnnouncementKind `json:"type"`
	Priority  Priority         `json:"priority"`
	ProductID string           `json:"productId,omitempty"`
	Link      string           `json:"link,omitempty"`
	Sent      int              `json:"sent"`
	Reads     int              `json:"reads"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (a *Announcement) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(a.Title) > maxAnnouncementTitle {
		return NewValidationError("title", "is too long")
	}
	if strings.TrimSpace(a.Message) == "" {
		return NewValidationError("message", "is required")
	}
	return nil
}

// FeedItem is an announcement as one buyer sees it.
type FeedItem struct {
	Announcement
	Read bool `json:"isRead"`
}

// KindPreferences switches each announcement kind on or off.
type KindPreferences struct {
	Announcements bool `json:"announcements"`
	Promotions    bool `json:"promotions"`
	Updates       bool `json:"updates"`
	Alerts        bool `json:"alerts"`
}

func (k KindPreferences) Allows(kind AnnouncementKind) bool {
	switch kind {
	case KindAnnouncement:
		return k.Announcements
	case KindPromotion:
		return k.Promotions
	case KindUpdate:
		return k.Updates
	case KindAlert:
		return k.Alerts
	}
	return false
}

// Enabled lists the allowed kinds in a fixed order.
func (k KindPreferences) Enabled() []AnnouncementKind {
	var kinds []AnnouncementKind
	for _, kind := range AnnouncementKinds {
		if k.Allows(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// KindPreferencesPatch changes only the kinds that are set.
type KindPreferencesPatch struct {
	Announcements *bool `json:"announcements,omitempty"`
	Promotions    *bool `json:"promotions,omitempty"`
	Updates       *bool `json:"updates,omitempty"`
	Alerts        *bool `json:"alerts,omitempty"`
}

func (p KindPreferencesPatch) apply(k *KindPreferences) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&k.Announcements, p.Announcements)
	set(&k.Promotions, p.Promotions)
	set(&k.Updates, p.Updates)
	set(&k.Alerts, p.Alerts)
}

// NotificationPreferences is what a buyer wants to hear from sellers.
type NotificationPreferences struct {
	BuyerID      string          `json:"buyerId"`
	Enabled      bool            `json:"enableNotifications"`
	Kinds        KindPreferences `json:"preferences"`
	MutedSellers []string        `json:"mutedSellers"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DefaultNotificationPreferences hears everything from everyone.
func DefaultNotificationPreferences(buyerID string) NotificationPreferences {
	return NotificationPreferences{
		BuyerID:      buyerID,
		Enabled:      true,
		Kinds:        KindPreferences{Announcements: true, Promotions: true, Updates: true, Alerts: true},
		MutedSellers: []string{},
	}
}

func (p *NotificationPreferences) Mutes(sellerID string) bool {
	return slices.Contains(p.MutedSellers, sellerID)
}

// Allows reports whether a should reach this buyer.
func (p *NotificationPreferences) Allows(a *Announcement) bool {
	return p.Enabled && p.Kinds.Allows(a.Kind) && !p.Mutes(a.SellerID)
}

// SetMuted adds or removes sellerID from the muted list. It reports whether
// the list changed.
func (p *NotificationPreferences) SetMuted(sellerID string, mute bool) bool {
	i := slices.Index(p.MutedSellers, sellerID)
	switch {
	case mute && i < 0:
		p.MutedSellers = append(p.MutedSellers, sellerID)
		return true
	case !mute && i >= 0:
		p.MutedSellers = slices.Delete(p.MutedSellers, i, i+1)
		return true
	}
	return false
}

// PreferencesUpdate changes only the fields that are set.
type PreferencesUpdate struct {
	Enabled *bool                 `json:"enableNotifications,omitempty"`
	Kinds   *KindPreferencesPatch `json:"preferences,omitempty"`
}

func (u PreferencesUpdate) Apply(p *NotificationPreferences) {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.Kinds != nil {
		u.Kinds.apply(&p.Kinds)
	}
}

// AnnouncementFilter selects stored announcements. Empty fields match
// everything.
type AnnouncementFilter struct {
	SellerID       string
	ExcludeSellers []string
	Kinds          []AnnouncementKind
	Offset         int
	Limit          int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// PageRequest is a 1-based page of Limit items.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalized fills in the first page and default limit and caps the limit.
func (r PageRequest) Normalized() PageRequest {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = defaultPageLimit
	}
	if r.Limit > maxPageLimit {
		r.Limit = maxPageLimit
	}
	return r
}

func (r PageRequest) Offset() int {
	return (r.Page - 1) * r.Limit
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

func NewPagination(r PageRequest, total int64) Pagination {
	r = r.Normalized()
	pages := int((total + int64(r.Limit) - 1) / int64(r.Limit))
	return Pagination{Page: r.Page, Limit: r.Limit, Total: total, Pages: pages}
}

// Feed is one page of a buyer's announcements.
type Feed struct {
	Notifications []FeedItem `json:"notifications"`
	Pagination    Pagination `json:"pagination"`
}

// SellerAnnouncements is one page of what a seller has sent.
type SellerAnnouncements struct {
	Notifications []Announcement `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}
