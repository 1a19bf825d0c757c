package models

type ThreadChannelType string

const ThreadChannelSupport ThreadChannelType = "support"

type ThreadState string

const (
	ThreadStateActive   ThreadState = "active"
	ThreadStateArchived ThreadState = "archived"
	ThreadStateLocked   ThreadState = "locked"
)

type ParticipantRole string

const (
	ParticipantRoleSystem      ParticipantRole = "system"
	ParticipantRoleParticipant ParticipantRole = "participant"
	ParticipantRoleSupport     ParticipantRole = "support"
	ParticipantRoleOwner       ParticipantRole = "owner"
)

// Rank orders roles by privilege; unknown roles rank lowest.
func (r ParticipantRole) Rank() int {
	switch r {
	case ParticipantRoleOwner:
		return 3
	case ParticipantRoleSupport:
		return 2
	case ParticipantRoleParticipant:
		return 1
	default:
		return 0
	}
}

type ThreadMessageType string

const ThreadMessageTypeText ThreadMessageType = "text"

type SupportCaseStatus string

const (
	SupportCaseStatusInProgress        SupportCaseStatus = "in_progress"
	SupportCaseStatusWaitingOnCustomer SupportCaseStatus = "waiting_on_customer"
	SupportCaseStatusResolved          SupportCaseStatus = "resolved"
	SupportCaseStatusClosed            SupportCaseStatus = "closed"
)

// IsTerminal is true for resolved and closed cases.
func (s SupportCaseStatus) IsTerminal() bool {
	return s == SupportCaseStatusResolved || s == SupportCaseStatusClosed
}

type SupportCasePriority string

const (
	SupportCasePriorityLow    SupportCasePriority = "low"
	SupportCasePriorityMedium SupportCasePriority = "medium"
	SupportCasePriorityHigh   SupportCasePriority = "high"
	SupportCasePriorityUrgent SupportCasePriority = "urgent"
)
