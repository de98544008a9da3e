package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const announcementNotification = "seller_announcement"

// AnnouncementInput is a seller's new announcement as submitted.
type AnnouncementInput struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Kind      string `json:"type"`
	Priority  string `json:"priority"`
	ProductID string `json:"productId"`
	Link      string `json:"link"`
}

// AnnouncementService stores seller announcements, pushes them to connected
// buyers and serves each buyer's feed filtered by their preferences.
type AnnouncementService struct {
	repo     port.AnnouncementRepository
	notifier port.Notifier
	store    storeCall
	now      func() time.Time
}

func NewAnnouncementService(repo port.AnnouncementRepository, notifier port.Notifier, storeTimeout time.Duration) *AnnouncementService {
	return &AnnouncementService{
		repo:     repo,
		notifier: notifier,
		store:    newStoreCall(storeTimeout),
		now:      time.Now,
	}
}

// Announce stores the announcement and pushes it to every connected buyer
// whose preferences allow it. It returns how many buyers were reached.
func (s *AnnouncementService) Announce(ctx context.Context, seller domain.Principal, in AnnouncementInput) (*domain.Announcement, int, error) {
	if seller.Role != domain.RoleSeller {
		return nil, 0, domain.ErrForbidden
	}
	kind, ok := domain.ParseAnnouncementKind(in.Kind)
	if !ok {
		return nil, 0, domain.NewValidationError("type", "unsupported announcement type")
	}
	priority, ok := domain.ParsePriority(in.Priority)
	if !ok {
		return nil, 0, domain.NewValidationError("priority", "unsupported priority")
	}

	a := &domain.Announcement{
		ID:        uuid.NewString(),
		SellerID:  seller.ID,
		Title:     strings.TrimSpace(in.Title),
		Message:   strings.TrimSpace(in.Message),
		Kind:      kind,
		Priority:  priority,
		ProductID: strings.TrimSpace(in.ProductID),
		Link:      strings.TrimSpace(in.Link),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := a.Validate(); err != nil {
		return nil, 0, err
	}

	sctx, cancel := s.store.ctx(ctx)
	err := s.repo.InsertAnnouncement(sctx, *a)
	cancel()
	if err != nil {
		return nil, 0, storeFailure("insert announcement", err)
	}

	if s.notifier == nil {
		return a, 0, nil
	}
	sent := s.notifier.Broadcast(domain.RoleBuyer, domain.Notification{
		Type:    announcementNotification,
		Payload: a,
		SentAt:  a.CreatedAt.UnixMilli(),
	}, s.admits(ctx, a))
	a.Sent = sent

	if sent > 0 {
		rctx, cancel := s.store.detached(ctx)
		defer cancel()
		if err := s.repo.RecordAnnouncementSent(rctx, a.ID, sent); err != nil {
			log.Printf("announcement: record sent count for %s: %v", a.ID, err)
		}
	}
	return a, sent, nil
}

// admits checks each connected buyer's preferences once. A buyer whose
// preferences cannot be read is skipped.
func (s *AnnouncementService) admits(ctx context.Context, a *domain.Announcement) func(domain.Principal) bool {
	seen := make(map[string]bool)
	return func(p domain.Principal) bool {
		if ok, found := seen[p.ID]; found {
			return ok
		}
		prefs, err := s.preferences(ctx, p.ID)
		if err != nil {
			log.Printf("announcement: preferences for %s: %v", p.ID, err)
			seen[p.ID] = false
			return false
		}
		ok := prefs.Allows(a)
		seen[p.ID] = ok
		return ok
	}
}

func (s *AnnouncementService) preferences(ctx context.Context, buyerID string) (*domain.NotificationPreferences, error) {
	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	prefs, err := s.repo.FindNotificationPreferences(sctx, buyerID)
	if err != nil {
		return nil, storeFailure("find notification preferences", err)
	}
	if prefs == nil {
		defaults := domain.DefaultNotificationPreferences(buyerID)
		return &defaults, nil
	}
	return prefs, nil
}

// Feed returns the buyer's page of announcements, newest first, without
// muted sellers or disabled kinds.
func (s *AnnouncementService) Feed(ctx context.Context, buyer domain.Principal, req domain.PageRequest) (*domain.Feed, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}
	req = req.Normalized()

	prefs, err := s.preferences(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	kinds := prefs.Kinds.Enabled()
	if !prefs.Enabled || len(kinds) == 0 {
		return &domain.Feed{Notifications: []domain.FeedItem{}, Pagination: domain.NewPagination(req, 0)}, nil
	}

	filter := domain.AnnouncementFilter{
		ExcludeSellers: prefs.MutedSellers,
		Offset:         req.Offset(),
		Limit:          req.Limit,
	}
	if len(kinds) < len(domain.AnnouncementKinds) {
		filter.Kinds = kinds
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	announcements, total, err := s.repo.ListAnnouncements(sctx, filter)
	if err != nil {
		return nil, storeFailure("list announcements", err)
	}
	ids := make([]string, len(announcements))
	for i, a := range announcements {
		ids[i] = a.ID
	}
	read, err := s.repo.ReadAnnouncements(sctx, buyer.ID, ids)
	if err != nil {
		return nil, storeFailure("read announcements", err)
	}

	items := make([]domain.FeedItem, len(announcements))
	for i, a := range announcements {
		items[i] = domain.FeedItem{Announcement: a, Read: read[a.ID]}
	}
	return &domain.Feed{Notifications: items, Pagination: domain.NewPagination(req, total)}, nil
}

// SellerAnnouncements returns a page of what the seller has sent, newest first.
func (s *AnnouncementService) SellerAnnouncements(ctx context.Context, seller domain.Principal, req domain.PageRequest) (*domain.SellerAnnouncements, error) {
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrForbidden
	}
	req = req.Normalized()

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	announcements, total, err := s.repo.ListAnnouncements(sctx, domain.AnnouncementFilter{
		SellerID: seller.ID,
		Offset:   req.Offset(),
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, storeFailure("list seller announcements", err)
	}
	if announcements == nil {
		announcements = []domain.Announcement{}
	}
	return &domain.SellerAnnouncements{Notifications: announcements, Pagination: domain.NewPagination(req, total)}, nil
}

// MarkRead records that the buyer read the announcement. Repeats are no-ops.
func (s *AnnouncementService) MarkRead(ctx context.Context, buyer domain.Principal, id string) error {
	if buyer.Role != domain.RoleBuyer {
		return domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	a, err := s.repo.FindAnnouncement(sctx, id)
	if err != nil {
		return storeFailure("find announcement", err)
	}
	if a == nil {
		return domain.ErrAnnouncementNotFound
	}
	if _, err := s.repo.MarkAnnouncementRead(sctx, buyer.ID, id, s.now().UTC()); err != nil {
		return storeFailure("mark announcement read", err)
	}
	return nil
}

// Delete removes one of the seller's own announcements.
func (s *AnnouncementService) Delete(ctx context.Context, seller domain.Principal, id string) error {
	if seller.Role != domain.RoleSeller {
		return domain.ErrForbidden
	}

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	deleted, err := s.repo.DeleteAnnouncement(sctx, seller.ID, id)
	if err != nil {
		return storeFailure("delete announcement", err)
	}
	if !deleted {
		return domain.ErrAnnouncementNotFound
	}
	return nil
}

// Preferences returns the buyer's notification preferences, defaults if
// none were saved.
func (s *AnnouncementService) Preferences(ctx context.Context, buyer domain.Principal) (*domain.NotificationPreferences, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}
	return s.preferences(ctx, buyer.ID)
}

func (s *AnnouncementService) UpdatePreferences(ctx context.Context, buyer domain.Principal, update domain.PreferencesUpdate) (*domain.NotificationPreferences, error) {
	return s.modifyPreferences(ctx, buyer, func(p *domain.NotificationPreferences) error {
		update.Apply(p)
		return nil
	})
}

// MuteSeller adds sellerID to or removes it from the buyer's muted sellers.
func (s *AnnouncementService) MuteSeller(ctx context.Context, buyer domain.Principal, sellerID string, mute bool) (*domain.NotificationPreferences, error) {
	sellerID = strings.TrimSpace(sellerID)
	return s.modifyPreferences(ctx, buyer, func(p *domain.NotificationPreferences) error {
		if sellerID == "" {
			return domain.NewValidationError("sellerId", "is required")
		}
		p.SetMuted(sellerID, mute)
		return nil
	})
}

func (s *AnnouncementService) modifyPreferences(ctx context.Context, buyer domain.Principal, change func(*domain.NotificationPreferences) error) (*domain.NotificationPreferences, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	prefs, err := s.preferences(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	if err := change(prefs); err != nil {
		return nil, err
	}
	prefs.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	sctx, cancel := s.store.ctx(ctx)
	defer cancel()

	if err := s.repo.SaveNotificationPreferences(sctx, *prefs); err != nil {
		return nil, storeFailure("save notification preferences", err)
	}
	return prefs, nil
}
