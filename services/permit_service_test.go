package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"permit_flow_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("Personal permit within limit", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:30")

		assert.Equal(t, models.StateCodePending, p.State.Code)
		assert.Equal(t, "12345678", p.RequesterID)
		assert.Equal(t, 1, p.Version)
		require.NotNil(t, p.ExpectedReturnAt)
		assert.True(t, p.ExpectedReturnAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
		assert.Equal(t, []string{p.ID}, f.artifacts.calls)
		assert.Empty(t, f.notifier.events)

		logs, err := GetResourceAuditHistory(f.db, "Permit", p.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.AuditActionSubmit, logs[0].Action)
		assert.Equal(t, "u-1", *logs[0].UserID)
	})

	t.Run("Duration exceeded", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.workflow.Submit(ctx, SubmitInput{
			RequesterID: "12345678",
			TypeID:      f.personal.ID,
			StartAt:     "2024-01-01T08:00:00Z",
			EndAt:       "2024-01-01T11:00:00Z",
			Reason:      "Cita médica",
		}, f.actor)

		we, ok := AsWorkflowError(err)
		require.True(t, ok)
		assert.Equal(t, CodeDurationExceeded, we.Code)
		assert.InDelta(t, 1.0, we.Excess, 1e-9)

		var count int64
		f.db.Model(&models.Permit{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("Open ended commission", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.commission, "2024-01-01T08:00", "")
		assert.Nil(t, p.EndAt)
		assert.Nil(t, p.ExpectedReturnAt)
	})

	t.Run("Rejected input", func(t *testing.T) {
		f := newWorkflowFixture(t)
		base := SubmitInput{RequesterID: "12345678", TypeID: f.personal.ID, StartAt: "2024-01-01T08:00", Reason: "x"}

		in := base
		in.EndAt = "2024-01-01T07:00"
		_, err := f.workflow.Submit(ctx, in, f.actor)
		assert.True(t, HasCode(err, CodeInvalidTimeRange))

		in = base
		in.StartAt = "mañana"
		_, err = f.workflow.Submit(ctx, in, f.actor)
		assert.ErrorIs(t, err, ErrInvalidTimestamp)

		in = base
		in.Reason = "<script></script>"
		_, err = f.workflow.Submit(ctx, in, f.actor)
		assert.True(t, HasCode(err, CodeMissingField))

		in = base
		in.RequesterID = " "
		_, err = f.workflow.Submit(ctx, in, f.actor)
		assert.True(t, HasCode(err, CodeMissingField))

		in = base
		in.TypeID = "missing"
		_, err = f.workflow.Submit(ctx, in, f.actor)
		assert.ErrorIs(t, err, ErrPermitTypeNotFound)
	})

	t.Run("Inactive type", func(t *testing.T) {
		f := newWorkflowFixture(t)
		require.NoError(t, f.db.Model(f.personal).Update("is_active", false).Error)
		f.workflow.Catalog.Invalidate()

		_, err := f.workflow.Submit(ctx, SubmitInput{
			RequesterID: "12345678", TypeID: f.personal.ID, StartAt: "2024-01-01T08:00", Reason: "x",
		}, f.actor)
		assert.True(t, HasCode(err, CodeTypeInactive))
	})

	t.Run("Creates PENDING when missing", func(t *testing.T) {
		f := newWorkflowFixture(t)
		require.NoError(t, f.db.Where("code = ?", models.StateCodePending).Delete(&models.PermitState{}).Error)

		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		assert.Equal(t, models.StateCodePending, p.State.Code)
	})

	t.Run("Free text is sanitized", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p, err := f.workflow.Submit(ctx, SubmitInput{
			RequesterID:        "12345678",
			TypeID:             f.commission.ID,
			StartAt:            "2024-01-01T08:00",
			Reason:             "<b>Reunión</b> en SUNAT",
			Justification:      `<a href="javascript:alert(1)">ver</a> oficio`,
			VisitedInstitution: "<i>SUNAT</i>",
		}, f.actor)
		require.NoError(t, err)
		assert.Equal(t, "Reunión en SUNAT", p.Reason)
		assert.Equal(t, "ver oficio", p.Justification)
		require.NotNil(t, p.VisitedInstitution)
		assert.Equal(t, "SUNAT", *p.VisitedInstitution)
	})

	t.Run("Institution dropped for personal permits", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p, err := f.workflow.Submit(ctx, SubmitInput{
			RequesterID:        "12345678",
			TypeID:             f.personal.ID,
			StartAt:            "2024-01-01T08:00",
			Reason:             "Cita médica",
			VisitedInstitution: "Municipalidad",
		}, f.actor)
		require.NoError(t, err)
		assert.Nil(t, p.VisitedInstitution)

		var stored models.Permit
		require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
		assert.Nil(t, stored.VisitedInstitution)
	})
}

func TestSignSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("Personal permit is approved after HR", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")

		res := f.signManual(t, p.ID, models.RoleRequester)
		assert.Equal(t, models.StateCodePending, res.Permit.State.Code)
		assert.False(t, res.Derivation.Complete)
		require.NotNil(t, res.Permit.RequesterSignature.SignedAt)
		assert.True(t, res.Permit.RequesterSignature.SignedAt.Equal(f.now))

		res = f.signManual(t, p.ID, models.RoleSupervisor)
		assert.Equal(t, models.StateCodeApprovedBySupervisor, res.Permit.State.Code)

		res = f.signManual(t, p.ID, models.RoleHR)
		assert.True(t, res.Derivation.Complete)
		assert.Equal(t, models.StateCodeApproved, res.Permit.State.Code)
		assert.Equal(t, 4, res.Permit.Version)

		assert.Equal(t, []NotificationEvent{EventAwaitingSignature, EventAwaitingSignature, EventApproved}, f.notifier.events)
		assert.Len(t, f.artifacts.calls, 4)

		_, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleInstitution, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))

		logs, _ := GetResourceAuditHistory(f.db, "Permit", p.ID)
		assert.Len(t, logs, 4)
	})

	t.Run("Commission needs the institution", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.commission, "2024-01-01T08:00", "")

		f.signManual(t, p.ID, models.RoleRequester)
		f.signManual(t, p.ID, models.RoleSupervisor)
		res := f.signManual(t, p.ID, models.RoleHR)
		assert.Equal(t, models.StateCodeApprovedByHR, res.Permit.State.Code)
		assert.Equal(t, []models.SignatureRole{models.RoleInstitution}, res.Derivation.Missing)

		res = f.signManual(t, p.ID, models.RoleInstitution)
		assert.Equal(t, models.StateCodeApproved, res.Permit.State.Code)
	})

	t.Run("HR cannot skip the supervisor", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.signManual(t, p.ID, models.RoleRequester)

		_, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleHR, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		we, ok := AsWorkflowError(err)
		require.True(t, ok)
		assert.Equal(t, CodePriorSignatureRequired, we.Code)
		assert.Equal(t, models.RoleSupervisor, we.Role)

		got, _ := f.workflow.Get(ctx, p.ID)
		assert.False(t, got.HRSignature.IsSigned())
		assert.Equal(t, 2, got.Version)
	})

	t.Run("Rejected signature requests", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		_, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: "boss", Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeInvalidRole))

		_, err = f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: testManualSignature, Method: "stamp"}, f.actor)
		assert.True(t, HasCode(err, CodeInvalidMethod))

		_, err = f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: "hello", Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeInvalidPayload))

		_, err = f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleInstitution, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeNotApplicable))

		f.signManual(t, p.ID, models.RoleRequester)
		_, err = f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeAlreadySigned))

		_, err = f.workflow.Sign(ctx, "missing", SignInput{Role: models.RoleRequester, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.ErrorIs(t, err, ErrPermitNotFound)
	})

	t.Run("Missing target state records the signature only", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.signManual(t, p.ID, models.RoleRequester)

		require.NoError(t, f.db.Where("code = ?", models.StateCodeApprovedBySupervisor).Delete(&models.PermitState{}).Error)
		f.workflow.Catalog.Invalidate()

		res := f.signManual(t, p.ID, models.RoleSupervisor)
		assert.True(t, res.Permit.SupervisorSignature.IsSigned())
		assert.Equal(t, models.StateCodePending, res.Permit.State.Code)
		assert.Equal(t, models.StateCodeApprovedBySupervisor, res.Derivation.TargetState)
	})

	t.Run("Artifact and notifier failures are not fatal", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.artifacts.err = errBoom
		f.notifier.err = errBoom
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		res := f.signManual(t, p.ID, models.RoleRequester)
		assert.True(t, res.Permit.RequesterSignature.IsSigned())
	})
}

func TestSignDigital(t *testing.T) {
	ctx := context.Background()
	info := &CertificateInfo{
		Name:         "ANA PEREZ",
		NationalID:   "12345678",
		Issuer:       "RENIEC",
		SerialNumber: "1A2B",
		NotBefore:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("Valid certificate", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.validator.result = &CertificateResult{Valid: true, Info: info}
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		expectedHash := DocumentHash(p)

		res, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: "MIIB", Method: models.MethodDigital, SignerID: "12345678"}, f.actor)
		require.NoError(t, err)

		slot := res.Permit.RequesterSignature
		require.NotNil(t, slot.Validated)
		assert.True(t, *slot.Validated)
		assert.Equal(t, models.MethodDigital, *slot.Method)
		assert.Equal(t, "12345678", *slot.SignerID)
		stored, err := CertificateOf(slot)
		require.NoError(t, err)
		assert.Equal(t, "ANA PEREZ", stored.Name)
		assert.Equal(t, expectedHash, res.Permit.DocumentHash)

		require.NotNil(t, res.Verification)
		assert.Contains(t, res.Verification.URL, "/api/permits/"+p.ID+"/signatures/requester")

		detail, err := f.workflow.SignatureDetails(ctx, p.ID, models.RoleRequester)
		require.NoError(t, err)
		assert.True(t, detail.Validated)
		assert.Equal(t, res.Verification.Hash, detail.Verification.Hash)
		require.NotNil(t, detail.DaysRemaining)
		assert.Equal(t, info.DaysRemaining(f.now), *detail.DaysRemaining)

		_, err = f.workflow.SignatureDetails(ctx, p.ID, models.RoleSupervisor)
		assert.ErrorIs(t, err, ErrSignatureNotFound)
	})

	t.Run("Invalid certificate", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.validator.result = &CertificateResult{Valid: false, Reason: "certificate has expired"}
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		_, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: "MIIB", Method: models.MethodDigital}, f.actor)
		we, ok := AsWorkflowError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInvalidDigitalSignature, we.Code)
		assert.Equal(t, "certificate has expired", we.Message)

		got, _ := f.workflow.Get(ctx, p.ID)
		assert.False(t, got.RequesterSignature.IsSigned())
		assert.Empty(t, got.DocumentHash)
	})

	t.Run("Validator failure", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.validator.err = errBoom
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		_, err := f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleRequester, Payload: "MIIB", Method: models.MethodDigital}, f.actor)
		assert.True(t, HasCode(err, CodeInvalidDigitalSignature))
	})
}

func TestSignConcurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("Stale version is refused", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		stale, _ := f.workflow.Get(ctx, p.ID)

		f.signManual(t, p.ID, models.RoleRequester)

		err := f.workflow.guardedUpdate(ctx, stale, "", map[string]interface{}{"reason": "otra"}, AuditEntry{Action: models.AuditActionUpdate}, f.actor)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
	})

	t.Run("Each slot is written once", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		const signers = 8
		var wg sync.WaitGroup
		errs := make([]error, signers)
		for i := 0; i < signers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.workflow.Sign(ctx, p.ID, SignInput{
					Role: models.RoleRequester, Payload: testManualSignature, Method: models.MethodManual,
				}, f.actor)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, HasCode(err, CodeAlreadySigned) || errors.Is(err, ErrConcurrentUpdate), "unexpected error %v", err)
		}
		assert.Equal(t, 1, succeeded)

		got, _ := f.workflow.Get(ctx, p.ID)
		assert.Equal(t, 2, got.Version)
	})
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Reject", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.signManual(t, p.ID, models.RoleRequester)

		got, err := f.workflow.Reject(ctx, p.ID, "Sin <b>sustento</b>", f.actor)
		require.NoError(t, err)
		assert.Equal(t, models.StateCodeRejected, got.State.Code)
		assert.Equal(t, models.ClosedReasonRejected, got.ClosedReason)
		assert.Equal(t, "Sin sustento", got.RejectionNote)
		assert.Equal(t, []NotificationEvent{EventAwaitingSignature, EventRejected}, f.notifier.events)

		_, err = f.workflow.Reject(ctx, p.ID, "", f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))

		_, err = f.workflow.Sign(ctx, p.ID, SignInput{Role: models.RoleSupervisor, Payload: testManualSignature, Method: models.MethodManual}, f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))
	})

	t.Run("Cancel", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		got, err := f.workflow.Cancel(ctx, p.ID, "ya no es necesario", f.actor)
		require.NoError(t, err)
		assert.Equal(t, models.StateCodeCancelled, got.State.Code)
		assert.Equal(t, models.ClosedReasonCancelled, got.ClosedReason)

		_, err = f.workflow.Cancel(ctx, p.ID, "", f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))
	})

	t.Run("Approved permits cannot be rejected", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.signManual(t, p.ID, models.RoleRequester)
		f.signManual(t, p.ID, models.RoleSupervisor)
		f.signManual(t, p.ID, models.RoleHR)

		_, err := f.workflow.Reject(ctx, p.ID, "", f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))
	})

	t.Run("Missing REJECTED state", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		require.NoError(t, f.db.Where("code = ?", models.StateCodeRejected).Delete(&models.PermitState{}).Error)
		f.workflow.Catalog.Invalidate()

		_, err := f.workflow.Reject(ctx, p.ID, "", f.actor)
		assert.ErrorIs(t, err, ErrStateNotFound)
	})
}

func TestRegisterReturn(t *testing.T) {
	ctx := context.Background()

	t.Run("Late returns are recorded", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T10:00")

		got, err := f.workflow.RegisterReturn(ctx, p.ID, "2024-01-01T13:15", f.actor)
		require.NoError(t, err)
		require.NotNil(t, got.ReturnedAt)
		assert.True(t, got.ReturnedAt.Equal(time.Date(2024, 1, 1, 13, 15, 0, 0, time.UTC)))
		assert.True(t, got.EndAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
		assert.Equal(t, models.StateCodePending, got.State.Code)

		info := GetDurationInfo(got, f.personal)
		require.NotNil(t, info.Hours)
		assert.InDelta(t, 5.25, *info.Hours, 1e-9)
		assert.InDelta(t, 3.25, info.ExcessHours, 1e-9)

		_, err = f.workflow.RegisterReturn(ctx, p.ID, "2024-01-01T14:00", f.actor)
		assert.True(t, HasCode(err, CodeAlreadyReturned))
	})

	t.Run("Defaults to now", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.commission, "2024-01-01T06:00", "")

		got, err := f.workflow.RegisterReturn(ctx, p.ID, "", f.actor)
		require.NoError(t, err)
		assert.True(t, got.ReturnedAt.Equal(f.now))
	})

	t.Run("Before start", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		_, err := f.workflow.RegisterReturn(ctx, p.ID, "2024-01-01T07:59", f.actor)
		assert.True(t, HasCode(err, CodeInvalidTimeRange))
	})

	t.Run("Closed permits", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.workflow.Cancel(ctx, p.ID, "", f.actor)

		_, err := f.workflow.RegisterReturn(ctx, p.ID, "2024-01-01T09:00", f.actor)
		assert.True(t, HasCode(err, CodeTerminalState))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	str := func(s string) *string { return &s }

	t.Run("Edits an unsigned permit", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")

		got, err := f.workflow.Update(ctx, p.ID, UpdateInput{
			StartAt: str("2024-01-02T14:00"),
			EndAt:   str(""),
			Reason:  str("Cita <i>dental</i>"),
		}, f.actor)
		require.NoError(t, err)
		assert.True(t, got.StartAt.Equal(time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)))
		assert.Nil(t, got.EndAt)
		assert.True(t, got.ExpectedReturnAt.Equal(time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)))
		assert.Equal(t, "Cita dental", got.Reason)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("Institution kept only where it is signed", func(t *testing.T) {
		f := newWorkflowFixture(t)
		personal := f.submit(t, f.personal, "2024-01-01T08:00", "")
		got, err := f.workflow.Update(ctx, personal.ID, UpdateInput{VisitedInstitution: str("Municipalidad")}, f.actor)
		require.NoError(t, err)
		assert.Nil(t, got.VisitedInstitution)

		commission := f.submit(t, f.commission, "2024-01-01T08:00", "")
		got, err = f.workflow.Update(ctx, commission.ID, UpdateInput{VisitedInstitution: str("SUNAT")}, f.actor)
		require.NoError(t, err)
		require.NotNil(t, got.VisitedInstitution)
		assert.Equal(t, "SUNAT", *got.VisitedInstitution)
	})

	t.Run("Duration checked again", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")

		_, err := f.workflow.Update(ctx, p.ID, UpdateInput{EndAt: str("2024-01-01T12:00")}, f.actor)
		assert.True(t, HasCode(err, CodeDurationExceeded))
	})

	t.Run("Signed permits are locked", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")
		f.signManual(t, p.ID, models.RoleRequester)

		_, err := f.workflow.Update(ctx, p.ID, UpdateInput{Reason: str("otro")}, f.actor)
		assert.True(t, HasCode(err, CodeNotEditable))
	})

	t.Run("Nothing to change", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "")

		got, err := f.workflow.Update(ctx, p.ID, UpdateInput{}, f.actor)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
	})
}

func TestPermitFilterNormalize(t *testing.T) {
	f := PermitFilter{}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPageSize, f.Limit)

	f = PermitFilter{Page: 3, Limit: 1000}
	f.Normalize()
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, MaxPageSize, f.Limit)
}

func TestListPermits(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	first := f.submit(t, f.personal, "2024-01-01T08:00", "")
	f.submit(t, f.personal, "2024-01-05T08:00", "")
	f.submit(t, f.commission, "2024-01-10T08:00", "")
	f.workflow.Reject(ctx, first.ID, "", f.actor)

	permits, total, err := f.workflow.List(ctx, PermitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, permits, 3)
	assert.NotEmpty(t, permits[0].State.Code)

	_, total, _ = f.workflow.List(ctx, PermitFilter{TypeID: f.commission.ID})
	assert.Equal(t, int64(1), total)

	permits, total, _ = f.workflow.List(ctx, PermitFilter{StateCode: models.StateCodeRejected})
	assert.Equal(t, int64(1), total)
	assert.Equal(t, first.ID, permits[0].ID)

	from := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	_, total, _ = f.workflow.List(ctx, PermitFilter{StartFrom: &from, StartTo: &to})
	assert.Equal(t, int64(1), total)

	permits, total, _ = f.workflow.List(ctx, PermitFilter{Page: 2, Limit: 2})
	assert.Equal(t, int64(3), total)
	assert.Len(t, permits, 1)

	_, total, _ = f.workflow.List(ctx, PermitFilter{RequesterID: "nobody"})
	assert.Equal(t, int64(0), total)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("Soft deletes and removes documents", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")
		f.signManual(t, p.ID, models.RoleRequester)

		require.NoError(t, f.workflow.Delete(ctx, p.ID, f.actor))

		_, err := f.workflow.Get(ctx, p.ID)
		assert.ErrorIs(t, err, ErrPermitNotFound)

		var row models.Permit
		require.NoError(t, f.db.Unscoped().First(&row, "id = ?", p.ID).Error)
		assert.True(t, row.DeletedAt.Valid)
		assert.Equal(t, []string{p.ID}, f.artifacts.removed)

		logs, err := GetResourceAuditHistory(f.db, "Permit", p.ID)
		require.NoError(t, err)
		var deleted int
		for _, l := range logs {
			if l.Action == models.AuditActionDelete {
				deleted++
			}
		}
		assert.Equal(t, 1, deleted)

		assert.ErrorIs(t, f.workflow.Delete(ctx, p.ID, f.actor), ErrPermitNotFound)
	})

	t.Run("Storage failure keeps the delete", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")
		f.artifacts.err = errBoom

		require.NoError(t, f.workflow.Delete(ctx, p.ID, f.actor))
		_, err := f.workflow.Get(ctx, p.ID)
		assert.ErrorIs(t, err, ErrPermitNotFound)
	})

	t.Run("Concurrent signature wins", func(t *testing.T) {
		f := newWorkflowFixture(t)
		p := f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")

		// bump the version between the read and the delete
		fired := false
		require.NoError(t, f.db.Callback().Delete().Before("gorm:delete").Register("test:concurrent_sign", func(tx *gorm.DB) {
			if fired || tx.Statement.Table != "permits" {
				return
			}
			fired = true
			tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE permits SET version = version + 1 WHERE id = ?", p.ID)
		}))

		err := f.workflow.Delete(ctx, p.ID, f.actor)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
		assert.True(t, fired)
		assert.Empty(t, f.artifacts.removed)

		got, err := f.workflow.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
	})
}

// blockingArtifacts holds every regeneration until release is closed
type blockingArtifacts struct {
	release chan struct{}
	done    atomic.Int32
}

func (a *blockingArtifacts) Regenerate(ctx context.Context, permitID string) error {
	<-a.release
	a.done.Add(1)
	return nil
}

func (a *blockingArtifacts) RemoveDocuments(ctx context.Context, permit *models.Permit) error {
	return nil
}

func TestDrain(t *testing.T) {
	f := newWorkflowFixture(t)
	artifacts := &blockingArtifacts{release: make(chan struct{})}
	f.workflow.Artifacts = artifacts
	f.workflow.Async = true

	f.submit(t, f.personal, "2024-01-01T08:00", "2024-01-01T09:00")
	f.submit(t, f.personal, "2024-01-01T10:00", "2024-01-01T11:00")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.workflow.Drain(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(0), artifacts.done.Load())

	close(artifacts.release)
	require.NoError(t, f.workflow.Drain(context.Background()))
	assert.Equal(t, int32(2), artifacts.done.Load())
}
