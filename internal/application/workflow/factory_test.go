package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
)

func TestBuiltinMachines(t *testing.T) {
	tests := []struct {
		name    string
		machine *domainwf.Machine
		from    domainwf.State
		event   domainwf.Event
		actor   string
		allowed bool
		next    domainwf.State
	}{
		{"content submit", BuildContentItemMachine(), ContentDraft, ContentSubmit, "author", true, ContentInReview},
		{"content approve by editor", BuildContentItemMachine(), ContentInReview, ContentApprove, RoleEditor, true, ContentPublished},
		{"content approve by viewer", BuildContentItemMachine(), ContentInReview, ContentApprove, "viewer", false, ""},
		{"content restore by editor", BuildContentItemMachine(), ContentArchived, ContentRestore, RoleEditor, false, ""},
		{"content restore by admin", BuildContentItemMachine(), ContentArchived, ContentRestore, RoleAdmin, true, ContentDraft},
		{"task retry", BuildTaskMachine(), TaskFailed, TaskRetry, "agent", true, TaskPending},
		{"task complete from pending", BuildTaskMachine(), TaskPending, TaskComplete, "agent", false, ""},
		{"ticket close", BuildQuestionTicketMachine(), TicketOpen, TicketClose, "author", true, TicketClosed},
		{"ticket reopen request", BuildQuestionTicketMachine(), TicketOpen, TicketReopenRequest, "author", true, TicketReopenRequested},
		{"ticket close after reopen request", BuildQuestionTicketMachine(), TicketReopenRequested, TicketClose, "author", true, TicketClosed},
		{"ticket reopen by author", BuildQuestionTicketMachine(), TicketReopenRequested, TicketReopen, "author", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := domainwf.CanTransition(tt.machine, domainwf.TransitionContext{
				CurrentState: tt.from,
				Event:        tt.event,
				Actor:        tt.actor,
			})
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.next, d.NextState)
		})
	}
}

func TestNewCatalog(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"content_item", "question_ticket", "task"}, catalog.Names())

	extra := domainwf.NewBuilder("invoice").Configure("new").Permit("pay", "paid").MustBuild()
	catalog, err = NewCatalog(extra)
	require.NoError(t, err)
	_, ok := catalog.Get("invoice")
	assert.True(t, ok)

	_, err = NewCatalog(BuildTaskMachine())
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)
}
