package model

// MergeRequestState is the lifecycle state of an MR on the upstream service.
type MergeRequestState string

const (
	StateOpened MergeRequestState = "opened"
	StateMerged MergeRequestState = "merged"
	StateClosed MergeRequestState = "closed"
)

// ParseMergeRequestState maps a raw upstream string to a known state,
// defaulting to StateOpened for anything unrecognized (matching the
// original service's lenient parse behavior).
func ParseMergeRequestState(s string) MergeRequestState {
	switch MergeRequestState(s) {
	case StateMerged:
		return StateMerged
	case StateClosed:
		return StateClosed
	default:
		return StateOpened
	}
}

// ApprovalStatus summarizes whether an MR has gathered enough approvals.
type ApprovalStatus string

const (
	ApprovalApproved         ApprovalStatus = "approved"
	ApprovalPending          ApprovalStatus = "pending"
	ApprovalChangesRequested ApprovalStatus = "changes_requested"
)

// MergeRequest is the cached projection of one upstream merge request.
type MergeRequest struct {
	ID         int64 // globally unique remote id
	InstanceID int64
	IID        int64 // project-scoped, user-visible number
	ProjectID  int64

	ProjectName string // namespaced path, e.g. "group/project"

	Title             string
	Description       string
	AuthorUsername    string
	SourceBranch      string
	TargetBranch      string
	State             MergeRequestState
	WebURL            string
	CreatedAt         int64
	UpdatedAt         int64
	MergedAt          *int64
	ApprovalStatus    *ApprovalStatus
	ApprovalsRequired *int64
	ApprovalsCount    *int64
	Labels            []string
	Reviewers         []string
	PipelineStatus    *string
	CachedAt          int64
	UserHasApproved   bool
}

// IsOpen reports whether the MR is still open upstream.
func (m *MergeRequest) IsOpen() bool { return m.State == StateOpened }

// IsApproved reports whether the MR's approval status is "approved".
func (m *MergeRequest) IsApproved() bool {
	return m.ApprovalStatus != nil && *m.ApprovalStatus == ApprovalApproved
}

// ApprovalsCountOrZero returns ApprovalsCount, defaulting to 0 when unset.
func (m *MergeRequest) ApprovalsCountOrZero() int64 {
	if m.ApprovalsCount == nil {
		return 0
	}
	return *m.ApprovalsCount
}
