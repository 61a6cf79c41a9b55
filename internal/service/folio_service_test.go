package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
)

var (
	testDirector = &repository.Actor{
		Phone: "+525511111111", CanonicalPhone: "+525511111111",
		Name: "Dana", Role: repository.RoleDirector,
	}
	testSiteManager = &repository.Actor{
		Phone: "+525522222222", CanonicalPhone: "+525522222222",
		Name: "Saul", Role: repository.RoleSiteManager, OrgUnit: "AT-15",
	}
	testGeneralManager = &repository.Actor{
		Phone: "+525533333333", CanonicalPhone: "+525533333333",
		Name: "Gloria", Role: repository.RoleGeneralManager, OrgUnit: "AT-15",
	}
	testController = &repository.Actor{
		Phone: "+525544444444", CanonicalPhone: "+525544444444",
		Name: "Carlos", Role: repository.RoleController,
	}
)

func newTestFolioService() (*FolioService, *fakeFolioStore, *fakeAuditStore, *fakeNotifier) {
	folios := newFakeFolioStore()
	audit := newFakeAuditStore()
	notifier := &fakeNotifier{}
	svc := NewFolioService(folios, audit, notifier, logger.Nop())
	return svc, folios, audit, notifier
}

func seedFolio(folios *fakeFolioStore, code string, status repository.FolioStatus) *repository.Folio {
	folio := &repository.Folio{
		Code:      code,
		OrgUnit:   "AT-15",
		Purpose:   "repair hydraulic pump",
		Amount:    decimal.RequireFromString("1500.50"),
		Category:  "workshop",
		Priority:  repository.PriorityNormal,
		Status:    status,
		CreatedBy: testSiteManager.CanonicalPhone,
	}
	folios.put(folio)
	return folio
}

func TestCreateMidTierStartsAtPlantGate(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()

	folio, _, err := svc.Create(context.Background(), testSiteManager, CreateFolioInput{
		Purpose:   "repair hydraulic pump",
		Category:  "workshop",
		UnitRef:   "AT-15",
		Amount:    decimal.RequireFromString("1500.50"),
		HasAmount: true,
	})
	require.NoError(t, err)

	assert.Equal(t, repository.StatusPendingPlantApproval, folio.Status)
	assert.Equal(t, "AT-15", folio.OrgUnit)
	assert.NotEmpty(t, folio.Code)

	history := folios.historyOf(folio.Code)
	require.Len(t, history, 2)
	assert.Equal(t, string(repository.StatusGenerated), history[0].Status)
	assert.Equal(t, string(repository.StatusPendingPlantApproval), history[1].Status)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, repository.EventFolioCreated, notifier.calls[0].Event)
}

func TestCreateTopTierSkipsBothGates(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()

	folio, _, err := svc.Create(context.Background(), testDirector, CreateFolioInput{
		Purpose:   "repair hydraulic pump",
		Category:  "workshop",
		UnitRef:   "AT-15",
		Amount:    decimal.RequireFromString("1500.50"),
		HasAmount: true,
	})
	require.NoError(t, err)

	assert.Equal(t, repository.StatusReadyToSchedule, folio.Status)
	require.NotNil(t, folio.ApprovedBy)
	assert.Equal(t, testDirector.CanonicalPhone, *folio.ApprovedBy)

	// The skipped hq_approved label still shows in the trail.
	history := folios.historyOf(folio.Code)
	require.Len(t, history, 3)
	assert.Equal(t, string(repository.StatusGenerated), history[0].Status)
	assert.Equal(t, string(repository.StatusHQApproved), history[1].Status)
	assert.Equal(t, "auto", history[1].Comment)
	assert.Equal(t, string(repository.StatusReadyToSchedule), history[2].Status)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, repository.EventFolioApproved, notifier.calls[0].Event)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, notifier := newTestFolioService()
	ctx := context.Background()

	_, _, err := svc.Create(ctx, testSiteManager, CreateFolioInput{
		Purpose: "pump", Category: "workshop", UnitRef: "AT-15",
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))

	_, _, err = svc.Create(ctx, testSiteManager, CreateFolioInput{
		Purpose: "pump", Category: "workshop",
		Amount: decimal.RequireFromString("10"), HasAmount: true,
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))

	_, _, err = svc.Create(ctx, testSiteManager, CreateFolioInput{
		Purpose: "pump", Category: "supplies",
		Amount: decimal.RequireFromString("-5"), HasAmount: true,
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))

	assert.Empty(t, notifier.calls)
}

func TestApprovalLadder(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusPendingPlantApproval)

	folio, err := svc.Approve(ctx, testSiteManager, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingHQApproval, folio.Status)

	folio, err = svc.Approve(ctx, testDirector, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusReadyToSchedule, folio.Status)
	require.NotNil(t, folio.ApprovedBy)
	assert.Equal(t, testDirector.CanonicalPhone, *folio.ApprovedBy)

	history := folios.historyOf("F-202602-001")
	statuses := make([]string, len(history))
	for i, e := range history {
		statuses[i] = e.Status
	}
	assert.Equal(t, []string{
		string(repository.StatusPlantApproved),
		string(repository.StatusPendingHQApproval),
		string(repository.StatusHQApproved),
		string(repository.StatusReadyToSchedule),
	}, statuses)

	assert.Equal(t, []repository.EventKind{
		repository.EventFolioPlantApproved,
		repository.EventFolioApproved,
	}, notifier.events())
}

func TestApproveWrongGateIsConflict(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	seedFolio(folios, "F-202602-001", repository.StatusPendingPlantApproval)

	// Director cannot resolve the plant gate without an override.
	_, err := svc.Approve(context.Background(), testDirector, "F-202602-001")
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))

	folio, _ := folios.GetByCode(context.Background(), "F-202602-001")
	assert.Equal(t, repository.StatusPendingPlantApproval, folio.Status)
}

func TestApproveUnauthorizedRole(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	seedFolio(folios, "F-202602-001", repository.StatusPendingPlantApproval)

	_, err := svc.Approve(context.Background(), testController, "F-202602-001")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))
}

func TestApproveOverride(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusPendingPlantApproval)

	_, err := svc.ApproveOverride(ctx, testDirector, "F-202602-001", "")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.Code(err))

	_, err = svc.ApproveOverride(ctx, testSiteManager, "F-202602-001", "plant manager on leave")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	folio, err := svc.ApproveOverride(ctx, testDirector, "F-202602-001", "plant manager on leave")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusReadyToSchedule, folio.Status)

	history := folios.historyOf("F-202602-001")
	require.NotEmpty(t, history)
	assert.Equal(t, "override: plant manager on leave", history[0].Comment)
}

func TestApproveBatchMixedOutcomes(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	seedFolio(folios, "F-202602-001", repository.StatusPendingHQApproval)
	seedFolio(folios, "F-202602-002", repository.StatusPendingHQApproval)
	seedFolio(folios, "F-202602-050", repository.StatusCanceled)

	// Short tokens borrow the period of the full code in the same batch.
	report, err := svc.ApproveBatch(context.Background(), testDirector,
		[]string{"001", "002", "F-202602-050", "007", "garbage!"})
	require.NoError(t, err)

	require.Len(t, report.Items, 5)
	assert.Equal(t, 2, report.Approved)
	assert.Equal(t, BatchApproved, report.Items[0].Outcome)
	assert.Equal(t, "F-202602-001", report.Items[0].Code)
	assert.Equal(t, BatchApproved, report.Items[1].Outcome)
	assert.Equal(t, BatchCanceled, report.Items[2].Outcome)
	assert.Equal(t, BatchNotFound, report.Items[3].Outcome)
	assert.Equal(t, "F-202602-007", report.Items[3].Code)
	assert.Equal(t, BatchMalformedToken, report.Items[4].Outcome)
}

func TestApproveBatchAlreadyApproved(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	seedFolio(folios, "F-202602-003", repository.StatusReadyToSchedule)

	report, err := svc.ApproveBatch(context.Background(), testDirector, []string{"F-202602-003"})
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, BatchAlreadyApproved, report.Items[0].Outcome)
	assert.Equal(t, 0, report.Approved)
}

func TestSchedulePaymentClose(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusReadyToSchedule)

	folio, err := svc.Select(ctx, testController, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSelectedForWeek, folio.Status)

	folio, err = svc.RequestPayment(ctx, testController, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPaymentRequested, folio.Status)

	folio, err = svc.MarkPaid(ctx, testController, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPaid, folio.Status)

	folio, err = svc.Close(ctx, testController, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusClosed, folio.Status)

	assert.Equal(t, []repository.EventKind{
		repository.EventFolioSelected,
		repository.EventFolioPaymentRequested,
		repository.EventFolioPaid,
		repository.EventFolioClosed,
	}, notifier.events())
}

func TestSelectRequiresController(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	seedFolio(folios, "F-202602-001", repository.StatusReadyToSchedule)

	_, err := svc.Select(context.Background(), testGeneralManager, "F-202602-001")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))
}

func TestCancellationRejectedRestoresPriorStatus(t *testing.T) {
	svc, folios, _, _ := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusSelectedForWeek)

	folio, err := svc.RequestCancellation(ctx, testGeneralManager, "F-202602-001", "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCancellationRequested, folio.Status)
	require.NotNil(t, folio.PriorStatus)
	assert.Equal(t, repository.StatusSelectedForWeek, *folio.PriorStatus)

	folio, err = svc.RejectCancellation(ctx, testDirector, "F-202602-001", "work already scheduled")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSelectedForWeek, folio.Status)
	assert.Nil(t, folio.PriorStatus)
}

func TestCancellationAuthorized(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusReadyToSchedule)

	_, err := svc.RequestCancellation(ctx, testSiteManager, "F-202602-001", "no longer needed")
	require.NoError(t, err)

	_, err = svc.AuthorizeCancellation(ctx, testSiteManager, "F-202602-001")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	folio, err := svc.AuthorizeCancellation(ctx, testDirector, "F-202602-001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCanceled, folio.Status)
	assert.Nil(t, folio.PriorStatus)

	assert.Equal(t, []repository.EventKind{
		repository.EventFolioCancelRequested,
		repository.EventFolioCanceled,
	}, notifier.events())
}

func TestCancelPaidFolioRefused(t *testing.T) {
	svc, folios, _, notifier := newTestFolioService()
	seedFolio(folios, "F-202602-001", repository.StatusPaid)

	_, err := svc.RequestCancellation(context.Background(), testController, "F-202602-001", "oops")
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))

	// No audit rows, no notifications.
	assert.Empty(t, folios.historyOf("F-202602-001"))
	assert.Empty(t, notifier.calls)

	folio, _ := folios.GetByCode(context.Background(), "F-202602-001")
	assert.Equal(t, repository.StatusPaid, folio.Status)
}

func TestCommentKeepsStatus(t *testing.T) {
	svc, folios, audit, notifier := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusPendingHQApproval)

	err := svc.Comment(ctx, testController, "F-202602-001", "vendor confirmed delivery")
	require.NoError(t, err)

	folio, _ := folios.GetByCode(ctx, "F-202602-001")
	assert.Equal(t, repository.StatusPendingHQApproval, folio.Status)

	entries, _ := audit.ListFolio(ctx, "F-202602-001", false)
	require.Len(t, entries, 1)
	assert.Equal(t, "vendor confirmed delivery", entries[0].Comment)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, repository.EventFolioComment, notifier.calls[0].Event)
}

func TestAttachQuote(t *testing.T) {
	svc, folios, audit, _ := newTestFolioService()
	ctx := context.Background()
	seedFolio(folios, "F-202602-001", repository.StatusPendingPlantApproval)

	err := svc.AttachQuote(ctx, testSiteManager, "F-202602-001", "https://store/quote.pdf")
	require.NoError(t, err)

	folio, _ := folios.GetByCode(ctx, "F-202602-001")
	require.NotNil(t, folio.QuoteAttachmentURL)
	assert.Equal(t, "https://store/quote.pdf", *folio.QuoteAttachmentURL)

	entries, _ := audit.ListFolio(ctx, "F-202602-001", false)
	require.Len(t, entries, 1)
	assert.Equal(t, "quote attached", entries[0].Comment)
}
