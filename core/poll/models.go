package poll

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/user"
)

type Status string

// Statuses
const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AnonymousVoterName replaces the voter name of votes cast on anonymous polls.
const AnonymousVoterName = "Anonymous"

var (
	AllStatuses = []Status{StatusDraft, StatusActive, StatusCompleted, StatusCancelled}

	// DefaultEligibleVoters is used when a poll is created without eligible_voters.
	DefaultEligibleVoters = []string{user.RoleBOSController, user.RoleBOSMember}
)

func (s Status) IsValid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsFinal reports whether no transition can leave `s`.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type (
	// Creator is a snapshot of the admin who created the poll, taken at creation time.
	Creator struct {
		AdminID string `json:"admin_id" bson:"admin_id"`
		Name    string `json:"name" bson:"name"`
		Role    string `json:"role" bson:"role"`
	}

	Settings struct {
		RequireComments      bool `json:"require_comments" bson:"require_comments"`
		ShowResultsBeforeEnd bool `json:"show_results_before_end" bson:"show_results_before_end"`
		AutoCloseOnEndDate   bool `json:"auto_close_on_end_date" bson:"auto_close_on_end_date"`
	}

	// Vote is immutable once appended to a Poll.
	Vote struct {
		VoterID        string    `json:"voter_id,omitempty" bson:"voter_id"`
		VoterName      string    `json:"voter_name" bson:"voter_name"`
		VoterRole      string    `json:"voter_role" bson:"voter_role"`
		OptionSelected string    `json:"option_selected" bson:"option_selected"`
		VotedAt        time.Time `json:"voted_at" bson:"voted_at"`
		IPAddress      string    `json:"ip_address,omitempty" bson:"ip_address"`
		Comment        string    `json:"comment" bson:"comment"`
	}

	Result struct {
		Option     string `json:"option"`
		VoteCount  int    `json:"vote_count"`
		Percentage int    `json:"percentage"`
	}

	Poll struct {
		PollID             string    `json:"poll_id"`
		Title              string    `json:"title"`
		Description        string    `json:"description"`
		Options            []string  `json:"options"`
		CreatedBy          Creator   `json:"created_by"`
		EligibleVoters     []string  `json:"eligible_voters"`
		StartDate          time.Time `json:"start_date"`
		EndDate            time.Time `json:"end_date"`
		IsAnonymous        bool      `json:"is_anonymous"`
		AllowMultipleVotes bool      `json:"allow_multiple_votes"`
		Settings           Settings  `json:"settings"`
		Status             Status    `json:"status"`
		Votes              []Vote    `json:"votes"`
		TotalVotes         int       `json:"total_votes"`
		Results            []Result  `json:"results"`
		CreatedAt          time.Time `json:"created_at"` // UTC
		UpdatedAt          time.Time `json:"updated_at"` // UTC
	}

	// StatusCount is one row of the statistics breakdown.
	StatusCount struct {
		Status     Status `json:"status"`
		Count      int    `json:"count"`
		TotalVotes int    `json:"total_votes"`
	}

	Statistics struct {
		TotalPolls      int           `json:"total_polls"`
		ActivePolls     int           `json:"active_polls"`
		CompletedPolls  int           `json:"completed_polls"`
		StatusBreakdown []StatusCount `json:"status_breakdown"`
	}

	// Caller is the authenticated user on whose behalf an operation runs.
	Caller struct {
		ID    string
		Name  string
		Email string
		Role  string   // acting role, recorded as the creator role
		Roles []string // every BOS role held; defaults to Role
	}
)

// BOSRoles returns the roles the caller may vote with.
func (c Caller) BOSRoles() []string {
	if len(c.Roles) > 0 {
		return c.Roles
	}
	if c.Role != "" {
		return []string{c.Role}
	}
	return nil
}

// Redacted returns a copy of the poll safe to hand out to clients:
// on anonymous polls, votes lose their voter_id and ip_address.
func (p Poll) Redacted() Poll {
	if !p.IsAnonymous {
		return p
	}
	votes := make([]Vote, len(p.Votes))
	for i, v := range p.Votes {
		v.VoterID = ""
		v.IPAddress = ""
		votes[i] = v
	}
	p.Votes = votes
	return p
}

// SettingsInput holds the optional settings of NewPoll.
type SettingsInput struct {
	RequireComments      bool  `json:"require_comments"`
	ShowResultsBeforeEnd bool  `json:"show_results_before_end"`
	AutoCloseOnEndDate   *bool `json:"auto_close_on_end_date"` // defaults to true
}

// NewPoll contains information needed to create a new Poll.
type NewPoll struct {
	Title              string         `json:"title" validate:"required,notblank"`
	Description        string         `json:"description" validate:"required,notblank"`
	Options            []string       `json:"options" validate:"required"`
	StartDate          time.Time      `json:"start_date" validate:"required"`
	EndDate            time.Time      `json:"end_date" validate:"required"`
	EligibleVoters     []string       `json:"eligible_voters" validate:"omitempty,bosroles"`
	IsAnonymous        bool           `json:"is_anonymous"`
	AllowMultipleVotes bool           `json:"allow_multiple_votes"`
	Settings           *SettingsInput `json:"settings"`
}

func (np *NewPoll) Validate(validate *validator.Validate) error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.Options = NormalizeOptions(np.Options)
	np.EligibleVoters = normalizeRoles(np.EligibleVoters)

	if err := validate.Struct(np); err != nil {
		return err
	}
	if len(np.Options) < 2 {
		return core.NewFieldValidationError("options", errTooFewOptions)
	}
	if !np.EndDate.After(np.StartDate) {
		return core.NewFieldValidationError("end_date", errEndBeforeStart)
	}
	return nil
}

// SettingsUpdate holds the settings to change; nil fields are left untouched.
type SettingsUpdate struct {
	RequireComments      *bool `json:"require_comments"`
	ShowResultsBeforeEnd *bool `json:"show_results_before_end"`
	AutoCloseOnEndDate   *bool `json:"auto_close_on_end_date"`
}

// UpdatePoll defines what information may be provided to modify an existing Poll.
// nil fields are left untouched; any other field of the request body is ignored.
type UpdatePoll struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Options     []string        `json:"options"`
	StartDate   *time.Time      `json:"start_date"`
	EndDate     *time.Time      `json:"end_date"`
	Status      *Status         `json:"status"`
	Settings    *SettingsUpdate `json:"settings"`
}

func (up *UpdatePoll) Validate(validate *validator.Validate) error {
	var fldErrs []core.FieldError
	if up.Title != nil {
		if *up.Title = core.CleanString(*up.Title); *up.Title == "" {
			fldErrs = append(fldErrs, core.FieldError{Field: "title", Error: errBlank})
		}
	}
	if up.Description != nil {
		if *up.Description = core.CleanString(*up.Description); *up.Description == "" {
			fldErrs = append(fldErrs, core.FieldError{Field: "description", Error: errBlank})
		}
	}
	if up.Options != nil {
		if up.Options = NormalizeOptions(up.Options); len(up.Options) < 2 {
			fldErrs = append(fldErrs, core.FieldError{Field: "options", Error: errTooFewOptions})
		}
	}
	if up.Status != nil && !up.Status.IsValid() {
		fldErrs = append(fldErrs, core.FieldError{Field: "status", Error: errInvalidStatus})
	}
	if len(fldErrs) > 0 {
		return core.NewValidationError(nil, fldErrs...)
	}
	return validate.Struct(up)
}

// QueryFilter narrows Repository.QueryPolls. Zero fields are ignored; set fields are ANDed.
type QueryFilter struct {
	Status    Status
	CreatedBy string // Creator.AdminID
	// EligibleRoles keeps polls open to at least one of these voter roles.
	EligibleRoles []string
	// OpenAt keeps polls whose voting window contains this instant.
	OpenAt time.Time
}

func (f *QueryFilter) Clean() {
	f.Status = Status(core.CleanString(string(f.Status), true /* lower */))
	f.CreatedBy = core.CleanString(f.CreatedBy)
}

// Validate rejects unknown statuses.
func (f QueryFilter) Validate() error {
	if f.Status != "" && !f.Status.IsValid() {
		return core.NewFieldValidationError("status", errInvalidStatus)
	}
	return nil
}

// VoteRequest is the body of a cast-vote call.
type VoteRequest struct {
	OptionSelected string `json:"option_selected" validate:"required"`
	Comment        string `json:"comment"`
}

func (vr *VoteRequest) Validate(validate *validator.Validate) error {
	vr.Comment = core.CleanString(vr.Comment)
	return validate.Struct(vr)
}

// NormalizeOptions trims options and drops blank and repeated entries, keeping the first
// occurrence of each option in place.
func NormalizeOptions(options []string) []string {
	if options == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(options))
	normalized := make([]string, 0, len(options))
	for _, opt := range options {
		opt = core.CleanString(opt)
		if opt == "" {
			continue
		}
		if _, ok := seen[opt]; ok {
			continue
		}
		seen[opt] = struct{}{}
		normalized = append(normalized, opt)
	}
	return normalized
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(roles))
	for _, role := range roles {
		role = core.CleanString(role, true /* lower */)
		if role != "" && !core.ContainsString(cleaned, role) {
			cleaned = append(cleaned, role)
		}
	}
	return cleaned
}
