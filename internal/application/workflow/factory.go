package workflow

import (
	"github.com/garyjia/statecore/internal/domain/entity"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
)

// Actor roles used by the built-in machines
const (
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// Content item lifecycle
const (
	ContentDraft     domainwf.State = "draft"
	ContentInReview  domainwf.State = "in_review"
	ContentPublished domainwf.State = "published"
	ContentArchived  domainwf.State = "archived"

	ContentSubmit    domainwf.Event = "submit"
	ContentApprove   domainwf.Event = "approve"
	ContentReject    domainwf.Event = "reject"
	ContentUnpublish domainwf.Event = "unpublish"
	ContentArchive   domainwf.Event = "archive"
	ContentRestore   domainwf.Event = "restore"
)

// Task lifecycle
const (
	TaskPending    domainwf.State = "pending"
	TaskInProgress domainwf.State = "in_progress"
	TaskCompleted  domainwf.State = "completed"
	TaskFailed     domainwf.State = "failed"
	TaskCancelled  domainwf.State = "cancelled"

	TaskStart    domainwf.Event = "start"
	TaskComplete domainwf.Event = "complete"
	TaskFail     domainwf.Event = "fail"
	TaskRetry    domainwf.Event = "retry"
	TaskCancel   domainwf.Event = "cancel"
)

// Question ticket lifecycle
const (
	TicketOpen            domainwf.State = "open"
	TicketAnswered        domainwf.State = "answered"
	TicketClosed          domainwf.State = "closed"
	TicketReopenRequested domainwf.State = "reopen_requested"

	TicketAnswer        domainwf.Event = "answer"
	TicketClose         domainwf.Event = "close"
	TicketReopenRequest domainwf.Event = "reopen_request"
	TicketReopen        domainwf.Event = "reopen"
)

// BuildContentItemMachine creates the editorial lifecycle of content items
func BuildContentItemMachine() *domainwf.Machine {
	b := domainwf.NewBuilder(entity.TypeContentItem).
		States(ContentDraft, ContentInReview, ContentPublished, ContentArchived).
		Events(ContentSubmit, ContentApprove, ContentReject, ContentUnpublish, ContentArchive, ContentRestore).
		Initial(ContentDraft)

	b.Configure(ContentDraft).
		Permit(ContentSubmit, ContentInReview)

	b.Configure(ContentInReview).
		PermitFor(ContentApprove, ContentPublished, RoleEditor, RoleAdmin).
		PermitFor(ContentReject, ContentDraft, RoleEditor, RoleAdmin)

	b.Configure(ContentPublished).
		PermitFor(ContentUnpublish, ContentDraft, RoleEditor, RoleAdmin).
		PermitFor(ContentArchive, ContentArchived, RoleEditor, RoleAdmin)

	b.Configure(ContentArchived).
		PermitFor(ContentRestore, ContentDraft, RoleAdmin)

	return b.MustBuild()
}

// BuildTaskMachine creates the lifecycle of agent tasks
func BuildTaskMachine() *domainwf.Machine {
	b := domainwf.NewBuilder(entity.TypeTask).
		States(TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskCancelled).
		Events(TaskStart, TaskComplete, TaskFail, TaskRetry, TaskCancel).
		Initial(TaskPending)

	b.Configure(TaskPending).
		Permit(TaskStart, TaskInProgress).
		Permit(TaskCancel, TaskCancelled)

	b.Configure(TaskInProgress).
		Permit(TaskComplete, TaskCompleted).
		Permit(TaskFail, TaskFailed).
		Permit(TaskCancel, TaskCancelled)

	b.Configure(TaskFailed).
		Permit(TaskRetry, TaskPending)

	return b.MustBuild()
}

// BuildQuestionTicketMachine creates the lifecycle of question tickets
func BuildQuestionTicketMachine() *domainwf.Machine {
	b := domainwf.NewBuilder(entity.TypeQuestionTicket).
		States(TicketOpen, TicketAnswered, TicketClosed, TicketReopenRequested).
		Events(TicketAnswer, TicketClose, TicketReopenRequest, TicketReopen).
		Initial(TicketOpen)

	b.Configure(TicketOpen).
		Permit(TicketAnswer, TicketAnswered).
		Permit(TicketClose, TicketClosed).
		Permit(TicketReopenRequest, TicketReopenRequested)

	b.Configure(TicketAnswered).
		Permit(TicketClose, TicketClosed).
		Permit(TicketReopenRequest, TicketReopenRequested)

	b.Configure(TicketClosed).
		Permit(TicketReopenRequest, TicketReopenRequested)

	b.Configure(TicketReopenRequested).
		PermitFor(TicketReopen, TicketOpen, RoleEditor, RoleAdmin).
		Permit(TicketClose, TicketClosed)

	return b.MustBuild()
}

// BuiltinMachines returns the machines shipped with the engine
func BuiltinMachines() []*domainwf.Machine {
	return []*domainwf.Machine{
		BuildContentItemMachine(),
		BuildTaskMachine(),
		BuildQuestionTicketMachine(),
	}
}

// NewCatalog indexes the built-in machines plus any extra definitions.
// Extra machines may not reuse a built-in name.
func NewCatalog(extra ...*domainwf.Machine) (*domainwf.Catalog, error) {
	return domainwf.NewCatalog(append(BuiltinMachines(), extra...)...)
}
