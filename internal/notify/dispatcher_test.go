package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

type fakeDirectory struct {
	staff []*model.StaffMember
	err   error
	roles []string
}

func (f *fakeDirectory) StaffByRoles(ctx context.Context, roles []string) ([]*model.StaffMember, error) {
	f.roles = roles
	return f.staff, f.err
}

type recordingSink struct {
	name       string
	err        error
	recipients []string
	summaries  []AlertSummary
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, recipient *model.StaffMember, summary AlertSummary) error {
	if s.err != nil {
		return s.err
	}
	s.recipients = append(s.recipients, recipient.ID)
	s.summaries = append(s.summaries, summary)
	return nil
}

func testRoles() map[model.AlertPriority][]string {
	return map[model.AlertPriority][]string{
		model.AlertPriorityEmergency: {"clinician", "crisis_team"},
		model.AlertPriorityUrgent:    {"clinician", "care_manager"},
	}
}

func urgentAlert() *model.ClinicalAlert {
	return &model.ClinicalAlert{
		ID:            "alert-1",
		BeneficiaryID: "b-1",
		Category:      model.CategoryMentalHealth,
		Priority:      model.AlertPriorityUrgent,
		Title:         "Mental health risk identified",
		Message:       "Severe depression indicators present.",
	}
}

func TestDispatchFansOutAcrossSinks(t *testing.T) {
	directory := &fakeDirectory{staff: []*model.StaffMember{
		{ID: "s-1", Email: "one@example.com", Roles: []string{"clinician"}},
		{ID: "s-2", Email: "two@example.com", Roles: []string{"care_manager"}},
	}}
	email := &recordingSink{name: "email"}
	inApp := &recordingSink{name: "in-app"}

	dispatcher := NewDispatcher(zap.NewNop(), directory, testRoles(), email, inApp)
	sent := dispatcher.Dispatch(context.Background(), urgentAlert())

	require.Equal(t, 4, sent)
	require.Equal(t, []string{"clinician", "care_manager"}, directory.roles)
	require.Len(t, email.recipients, 2)
	require.Len(t, inApp.recipients, 2)
	require.Equal(t, "alert-1", email.summaries[0].AlertID)
}

func TestDispatchIgnoresBelowUrgent(t *testing.T) {
	directory := &fakeDirectory{staff: []*model.StaffMember{{ID: "s-1"}}}
	sink := &recordingSink{name: "email"}
	dispatcher := NewDispatcher(zap.NewNop(), directory, testRoles(), sink)

	alert := urgentAlert()
	alert.Priority = model.AlertPriorityHigh
	require.Zero(t, dispatcher.Dispatch(context.Background(), alert))
	require.Empty(t, sink.recipients)
}

func TestDispatchEmergencyRoles(t *testing.T) {
	directory := &fakeDirectory{staff: []*model.StaffMember{{ID: "s-1"}}}
	sink := &recordingSink{name: "email"}
	dispatcher := NewDispatcher(zap.NewNop(), directory, testRoles(), sink)

	alert := urgentAlert()
	alert.Priority = model.AlertPriorityEmergency
	require.Equal(t, 1, dispatcher.Dispatch(context.Background(), alert))
	require.Equal(t, []string{"clinician", "crisis_team"}, directory.roles)
}

func TestDispatchSinkFailureDoesNotStopOthers(t *testing.T) {
	directory := &fakeDirectory{staff: []*model.StaffMember{{ID: "s-1"}}}
	broken := &recordingSink{name: "email", err: errors.New("smtp down")}
	working := &recordingSink{name: "in-app"}
	dispatcher := NewDispatcher(zap.NewNop(), directory, testRoles(), broken, working)

	sent := dispatcher.Dispatch(context.Background(), urgentAlert())
	require.Equal(t, 1, sent)
	require.Len(t, working.recipients, 1)
}

func TestDispatchDirectoryFailure(t *testing.T) {
	directory := &fakeDirectory{err: errors.New("db closed")}
	sink := &recordingSink{name: "email"}
	dispatcher := NewDispatcher(zap.NewNop(), directory, testRoles(), sink)

	require.Zero(t, dispatcher.Dispatch(context.Background(), urgentAlert()))
}

func TestSummarySubject(t *testing.T) {
	s := AlertSummary{Priority: model.AlertPriorityUrgent, Title: "Mental health risk identified"}
	require.Equal(t, "[urgent] Mental health risk identified", s.SummarySubject())
}
