package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func newAnnouncementFixture(connected ...domain.Principal) (*AnnouncementService, *memStore, *recordingNotifier) {
	store := newMemStore()
	notifier := &recordingNotifier{connected: connected}
	svc := NewAnnouncementService(store, notifier, time.Second)
	var tick int64
	svc.now = func() time.Time {
		tick++
		return time.UnixMilli(1_700_000_000_000 + tick)
	}
	return svc, store, notifier
}

func TestAnnounce(t *testing.T) {
	svc, store, notifier := newAnnouncementFixture(buyerAlice, buyerBob, sellerTia)
	ctx := context.Background()

	a, sent, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: " Sale ", Message: " Everything 10% off "})
	require.NoError(t, err)
	assert.Equal(t, "Sale", a.Title)
	assert.Equal(t, sellerSam.ID, a.SellerID)
	assert.Equal(t, domain.KindAnnouncement, a.Kind)
	assert.Equal(t, domain.PriorityMedium, a.Priority)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"seller_announcement"}, notifier.types())

	stored, err := store.FindAnnouncement(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.Sent)

	_, _, err = svc.Announce(ctx, buyerAlice, AnnouncementInput{Title: "t", Message: "m"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	var verr *domain.ValidationError
	_, _, err = svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "t", Message: "  "})
	assert.ErrorAs(t, err, &verr)
	_, _, err = svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "t", Message: "m", Kind: "spam"})
	assert.ErrorAs(t, err, &verr)
	_, _, err = svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "t", Message: "m", Priority: "urgent"})
	assert.ErrorAs(t, err, &verr)

	quiet := NewAnnouncementService(store, nil, time.Second)
	a, sent, err = quiet.Announce(ctx, sellerSam, AnnouncementInput{Title: "t", Message: "m", Kind: "Alert"})
	require.NoError(t, err)
	assert.Equal(t, domain.KindAlert, a.Kind)
	assert.Zero(t, sent)
}

func TestAnnounce_RespectsPreferences(t *testing.T) {
	carl := domain.Principal{ID: "carl", Role: domain.RoleBuyer}
	dana := domain.Principal{ID: "dana", Role: domain.RoleBuyer}
	svc, _, notifier := newAnnouncementFixture(buyerAlice, buyerBob, carl, dana)
	ctx := context.Background()

	_, err := svc.MuteSeller(ctx, buyerBob, sellerSam.ID, true)
	require.NoError(t, err)
	off := false
	_, err = svc.UpdatePreferences(ctx, carl, domain.PreferencesUpdate{Kinds: &domain.KindPreferencesPatch{Promotions: &off}})
	require.NoError(t, err)
	_, err = svc.UpdatePreferences(ctx, dana, domain.PreferencesUpdate{Enabled: &off})
	require.NoError(t, err)

	_, sent, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "Sale", Message: "half price", Kind: "promotion"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []domain.Principal{buyerAlice}, notifier.sent)

	notifier.sent = nil
	_, sent, err = svc.Announce(ctx, sellerTia, AnnouncementInput{Title: "Hours", Message: "open late"})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.ElementsMatch(t, []domain.Principal{buyerAlice, buyerBob, carl}, notifier.sent)
}

func TestAnnounce_PreferenceLookupFailureSkipsBuyer(t *testing.T) {
	svc, store, _ := newAnnouncementFixture(buyerAlice)
	store.failPreferences = errStoreDown

	a, sent, err := svc.Announce(context.Background(), sellerSam, AnnouncementInput{Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, a.Sent)
}

func TestFeed(t *testing.T) {
	svc, _, _ := newAnnouncementFixture()
	ctx := context.Background()

	first, _, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "one", Message: "m"})
	require.NoError(t, err)
	promo, _, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "two", Message: "m", Kind: "promotion"})
	require.NoError(t, err)
	other, _, err := svc.Announce(ctx, sellerTia, AnnouncementInput{Title: "three", Message: "m"})
	require.NoError(t, err)

	feed, err := svc.Feed(ctx, buyerAlice, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, feed.Notifications, 3)
	assert.Equal(t, other.ID, feed.Notifications[0].ID)
	assert.Equal(t, domain.Pagination{Page: 1, Limit: 20, Total: 3, Pages: 1}, feed.Pagination)

	page, err := svc.Feed(ctx, buyerAlice, domain.PageRequest{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, first.ID, page.Notifications[0].ID)
	assert.Equal(t, 2, page.Pagination.Pages)

	require.NoError(t, svc.MarkRead(ctx, buyerAlice, promo.ID))
	require.NoError(t, svc.MarkRead(ctx, buyerAlice, promo.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, buyerAlice, "missing"), domain.ErrAnnouncementNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, sellerSam, promo.ID), domain.ErrForbidden)

	_, err = svc.MuteSeller(ctx, buyerAlice, sellerTia.ID, true)
	require.NoError(t, err)
	feed, err = svc.Feed(ctx, buyerAlice, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, feed.Notifications, 2)
	assert.Equal(t, promo.ID, feed.Notifications[0].ID)
	assert.True(t, feed.Notifications[0].Read)
	assert.Equal(t, 1, feed.Notifications[0].Reads)
	assert.False(t, feed.Notifications[1].Read)

	off := false
	_, err = svc.UpdatePreferences(ctx, buyerAlice, domain.PreferencesUpdate{Kinds: &domain.KindPreferencesPatch{Promotions: &off}})
	require.NoError(t, err)
	feed, err = svc.Feed(ctx, buyerAlice, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, feed.Notifications, 1)
	assert.Equal(t, first.ID, feed.Notifications[0].ID)

	_, err = svc.UpdatePreferences(ctx, buyerAlice, domain.PreferencesUpdate{Enabled: &off})
	require.NoError(t, err)
	feed, err = svc.Feed(ctx, buyerAlice, domain.PageRequest{})
	require.NoError(t, err)
	assert.NotNil(t, feed.Notifications)
	assert.Empty(t, feed.Notifications)
	assert.Zero(t, feed.Pagination.Total)

	_, err = svc.Feed(ctx, sellerSam, domain.PageRequest{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestFeed_NoKindsEnabledIsEmpty(t *testing.T) {
	svc, _, _ := newAnnouncementFixture()
	ctx := context.Background()
	_, _, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "t", Message: "m"})
	require.NoError(t, err)

	off := false
	_, err = svc.UpdatePreferences(ctx, buyerAlice, domain.PreferencesUpdate{Kinds: &domain.KindPreferencesPatch{
		Announcements: &off, Promotions: &off, Updates: &off, Alerts: &off,
	}})
	require.NoError(t, err)

	feed, err := svc.Feed(ctx, buyerAlice, domain.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, feed.Notifications)
}

func TestSellerAnnouncementsAndDelete(t *testing.T) {
	svc, store, _ := newAnnouncementFixture()
	ctx := context.Background()

	mine, _, err := svc.Announce(ctx, sellerSam, AnnouncementInput{Title: "mine", Message: "m"})
	require.NoError(t, err)
	_, _, err = svc.Announce(ctx, sellerTia, AnnouncementInput{Title: "theirs", Message: "m"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, buyerAlice, mine.ID))

	sent, err := svc.SellerAnnouncements(ctx, sellerSam, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, sent.Notifications, 1)
	assert.Equal(t, mine.ID, sent.Notifications[0].ID)
	assert.Equal(t, 1, sent.Notifications[0].Reads)

	_, err = svc.SellerAnnouncements(ctx, buyerAlice, domain.PageRequest{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.ErrorIs(t, svc.Delete(ctx, sellerTia, mine.ID), domain.ErrAnnouncementNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, buyerAlice, mine.ID), domain.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, sellerSam, mine.ID))
	assert.ErrorIs(t, svc.Delete(ctx, sellerSam, mine.ID), domain.ErrAnnouncementNotFound)

	read, err := store.ReadAnnouncements(ctx, buyerAlice.ID, []string{mine.ID})
	require.NoError(t, err)
	assert.Empty(t, read)

	sent, err = svc.SellerAnnouncements(ctx, sellerSam, domain.PageRequest{})
	require.NoError(t, err)
	assert.NotNil(t, sent.Notifications)
	assert.Empty(t, sent.Notifications)
}

func TestPreferences(t *testing.T) {
	svc, store, _ := newAnnouncementFixture()
	ctx := context.Background()

	prefs, err := svc.Preferences(ctx, buyerAlice)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultNotificationPreferences(buyerAlice.ID), *prefs)

	prefs, err = svc.MuteSeller(ctx, buyerAlice, " sam ", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"sam"}, prefs.MutedSellers)
	prefs, err = svc.MuteSeller(ctx, buyerAlice, "sam", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"sam"}, prefs.MutedSellers)
	prefs, err = svc.MuteSeller(ctx, buyerAlice, "tia", true)
	require.NoError(t, err)
	prefs, err = svc.MuteSeller(ctx, buyerAlice, "sam", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"tia"}, prefs.MutedSellers)

	off := false
	prefs, err = svc.UpdatePreferences(ctx, buyerAlice, domain.PreferencesUpdate{Kinds: &domain.KindPreferencesPatch{Alerts: &off}})
	require.NoError(t, err)
	assert.True(t, prefs.Enabled)
	assert.True(t, prefs.Kinds.Promotions)
	assert.False(t, prefs.Kinds.Alerts)
	assert.Equal(t, []string{"tia"}, prefs.MutedSellers)

	stored, err := store.FindNotificationPreferences(ctx, buyerAlice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Kinds.Alerts)
	assert.False(t, stored.UpdatedAt.IsZero())

	var verr *domain.ValidationError
	_, err = svc.MuteSeller(ctx, buyerAlice, "  ", true)
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Preferences(ctx, sellerSam)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.MuteSeller(ctx, sellerSam, "tia", true)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	store.failPreferences = errStoreDown
	_, err = svc.Preferences(ctx, buyerAlice)
	assert.ErrorIs(t, err, domain.ErrDependency)
}
