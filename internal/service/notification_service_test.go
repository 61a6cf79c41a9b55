package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

func testDirectory() *fakeActorStore {
	return &fakeActorStore{actors: []*repository.Actor{
		{Phone: "+525511111111", CanonicalPhone: "+525511111111", Name: "Dana", Role: repository.RoleDirector},
		{Phone: "+525522222222", CanonicalPhone: "+525522222222", Name: "Saul", Role: repository.RoleSiteManager, OrgUnit: "AT-15"},
		{Phone: "+525533333333", CanonicalPhone: "+525533333333", Name: "Gloria", Role: repository.RoleGeneralManager, OrgUnit: "AT-15"},
		{Phone: "+525544444444", CanonicalPhone: "+525544444444", Name: "Carlos", Role: repository.RoleController},
		{Phone: "+525555555555", CanonicalPhone: "+525555555555", Name: "Greta", Role: repository.RoleGeneralManager, OrgUnit: "AT-20"},
	}}
}

func newTestNotifier(sender *fakeSender, cfg NotificationConfig) (*NotificationService, *fakeLogStore) {
	logStore := &fakeLogStore{}
	svc := NewNotificationService(testDirectory(), logStore, sender, nil, nil, cfg, logger.Nop())
	return svc, logStore
}

func TestDispatchRecipientsByUnitAndRole(t *testing.T) {
	sender := newFakeSender()
	svc, _ := newTestNotifier(sender, NotificationConfig{ChunkSize: 10})

	// Fully approved: unit managers plus the controllers, never AT-20 staff.
	report := svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventFolioApproved, DispatchOptions{Message: "approved"})

	assert.Equal(t, 3, report.Sent)
	assert.ElementsMatch(t, []string{"+525522222222", "+525533333333", "+525544444444"}, sender.sentTo())
}

func TestDispatchExcludesActorByDigits(t *testing.T) {
	sender := newFakeSender()
	svc, _ := newTestNotifier(sender, NotificationConfig{ChunkSize: 10, ExcludeActor: true})

	// Actor phone arrives in a different form than the directory stores.
	report := svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventFolioApproved, DispatchOptions{
			Message:    "approved",
			ActorPhone: "whatsapp:+5215533333333",
		})

	assert.Equal(t, 2, report.Sent)
	assert.NotContains(t, sender.sentTo(), "+525533333333")
}

func TestDispatchNotifyEveryoneAddsDirectors(t *testing.T) {
	sender := newFakeSender()
	svc, _ := newTestNotifier(sender, NotificationConfig{ChunkSize: 10})

	svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventFolioSelected, DispatchOptions{Message: "urgent", NotifyEveryone: true})

	assert.Contains(t, sender.sentTo(), "+525511111111")
}

func TestDispatchFailureIsolation(t *testing.T) {
	sender := newFakeSender()
	sender.failTo["+525522222222"] = true
	svc, logStore := newTestNotifier(sender, NotificationConfig{ChunkSize: 10})

	report := svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventFolioApproved, DispatchOptions{Message: "approved"})

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "+525522222222", report.Failures[0].Recipient)

	// Every attempt is logged, success or not.
	entries := logStore.all()
	require.Len(t, entries, 3)
	outcomes := map[string]string{}
	for _, e := range entries {
		outcomes[e.Recipient] = e.Outcome
	}
	assert.Equal(t, repository.OutcomeFailed, outcomes["+525522222222"])
	assert.Equal(t, repository.OutcomeSent, outcomes["+525544444444"])
}

func TestDispatchDefersBeyondFirstChunk(t *testing.T) {
	sender := newFakeSender()
	svc, _ := newTestNotifier(sender, NotificationConfig{ChunkSize: 1, ChunkDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	report := svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventFolioApproved, DispatchOptions{Message: "approved"})

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Deferred)

	require.Eventually(t, func() bool {
		return len(sender.sentTo()) == 3
	}, 2*time.Second, 10*time.Millisecond, "deferred chunks should be delivered by the worker")

	cancel()
	svc.Stop()
}

func TestDispatchUnknownEventHasNoRecipients(t *testing.T) {
	sender := newFakeSender()
	svc, _ := newTestNotifier(sender, NotificationConfig{ChunkSize: 10})

	report := svc.Dispatch(context.Background(), "F-202602-001", "AT-15",
		repository.EventKind("bogus"), DispatchOptions{Message: "x"})

	assert.Zero(t, report.Sent)
	assert.Empty(t, sender.sentTo())
}
