package api

import (
	"time"

	"dreamGarden/internal/database"
	"dreamGarden/internal/identity"
)

type userResponse struct {
	ID                uint          `json:"id"`
	Email             string        `json:"email,omitempty"`
	Role              database.Role `json:"role"`
	DisplayName       string        `json:"display_name"`
	PhotoURL          string        `json:"photo_url,omitempty"`
	Hoching           string        `json:"hoching,omitempty"`
	FacilityID        *uint         `json:"facility_id,omitempty"`
	Affiliation       string        `json:"affiliation,omitempty"`
	ManagedStudentIDs []uint        `json:"managed_student_ids,omitempty"`
}

func newUserResponse(u *database.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:                u.ID,
		Email:             u.Email,
		Role:              u.Role,
		DisplayName:       u.DisplayName,
		PhotoURL:          u.PhotoURL,
		Hoching:           u.Hoching,
		FacilityID:        u.FacilityID,
		Affiliation:       u.Affiliation,
		ManagedStudentIDs: u.ManagedStudentIDs,
	}
}

type meResponse struct {
	State identity.State `json:"state"`
	Email string         `json:"email,omitempty"`
	User  *userResponse  `json:"user"`
}

type studentResponse struct {
	ID                     uint      `json:"id"`
	Name                   string    `json:"name"`
	Affiliation            string    `json:"affiliation"`
	PhotoURL               string    `json:"photo_url,omitempty"`
	PortfolioCompletionPct int       `json:"portfolio_completion_pct"`
	GuardianIDs            []uint    `json:"guardian_ids,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

func newStudentResponse(s *database.Student) studentResponse {
	out := studentResponse{
		ID:                     s.ID,
		Name:                   s.Name,
		Affiliation:            s.Affiliation,
		PhotoURL:               s.PhotoURL,
		PortfolioCompletionPct: s.PortfolioCompletionPct,
		CreatedAt:              s.CreatedAt,
	}
	for _, g := range s.Guardians {
		out.GuardianIDs = append(out.GuardianIDs, g.UserID)
	}
	return out
}

type recordResponse struct {
	ID                     uint                     `json:"id"`
	StudentID              uint                     `json:"student_id"`
	AuthorID               uint                     `json:"author_id"`
	AuthorRole             database.Role            `json:"author_role"`
	SchoolContext          database.SchoolContext   `json:"school_context"`
	NarrativeText          string                   `json:"narrative_text"`
	NarrativeTextRaw       string                   `json:"narrative_text_raw,omitempty"`
	AINeutralized          bool                     `json:"ai_neutralized"`
	AIFlag                 *database.AIFlag         `json:"ai_flag,omitempty"`
	EmotionCardID          int                      `json:"emotion_card_id"`
	LinkedRecordID         *uint                    `json:"linked_record_id,omitempty"`
	ExtractedCompetencyIDs []uint                   `json:"extracted_competency_ids"`
	MediaURLs              []string                 `json:"media_urls"`
	FileURLs               []string                 `json:"file_urls"`
	ChecklistItems         []database.ChecklistItem `json:"checklist_items"`
	CreatedAt              time.Time                `json:"created_at"`
}

// newRecordResponse 只向作者本人返回原始叙述。
func newRecordResponse(r *database.Record, viewer identity.Actor) recordResponse {
	out := recordResponse{
		ID:                     r.ID,
		StudentID:              r.StudentID,
		AuthorID:               r.AuthorID,
		AuthorRole:             r.AuthorRole,
		SchoolContext:          r.SchoolContext,
		NarrativeText:          r.NarrativeTextShared,
		AINeutralized:          r.AINeutralized,
		AIFlag:                 r.AIFlag,
		EmotionCardID:          r.EmotionCardID,
		LinkedRecordID:         r.LinkedRecordID,
		ExtractedCompetencyIDs: nonNilSlice(r.ExtractedCompetencyIDs),
		MediaURLs:              nonNilSlice(r.MediaURLs),
		FileURLs:               nonNilSlice(r.FileURLs),
		ChecklistItems:         nonNilSlice(r.ChecklistItems),
		CreatedAt:              r.CreatedAt,
	}
	if r.AuthorID == viewer.UserID {
		out.NarrativeTextRaw = r.NarrativeTextRaw
	}
	return out
}

func newRecordResponses(records []database.Record, viewer identity.Actor) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for i := range records {
		out = append(out, newRecordResponse(&records[i], viewer))
	}
	return out
}

type commentResponse struct {
	ID         uint          `json:"id"`
	RecordID   uint          `json:"record_id"`
	AuthorID   uint          `json:"author_id"`
	AuthorRole database.Role `json:"author_role"`
	Content    string        `json:"content"`
	CreatedAt  time.Time     `json:"created_at"`
}

func newCommentResponse(c *database.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		RecordID:   c.RecordID,
		AuthorID:   c.AuthorID,
		AuthorRole: c.AuthorRole,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
	}
}

type portfolioResponse struct {
	StudentID       uint                            `json:"student_id"`
	GeneratedAt     time.Time                       `json:"generated_at"`
	CompletionPct   int                             `json:"completion_pct"`
	RecordCount     int                             `json:"record_count"`
	SummaryText     string                          `json:"summary_text"`
	KeyCompetencies []database.KeyCompetency        `json:"key_competencies"`
	RecommendedJobs []string                        `json:"recommended_jobs"`
	EmotionTimeline []database.EmotionTimelineEntry `json:"emotion_timeline"`
	PDFAvailable    bool                            `json:"pdf_available"`
}

func newPortfolioResponse(p *database.Portfolio) portfolioResponse {
	return portfolioResponse{
		StudentID:       p.StudentID,
		GeneratedAt:     p.GeneratedAt,
		CompletionPct:   p.CompletionPct,
		RecordCount:     p.RecordCount,
		SummaryText:     p.SummaryText,
		KeyCompetencies: nonNilSlice(p.KeyCompetencies),
		RecommendedJobs: nonNilSlice(p.RecommendedJobs),
		EmotionTimeline: nonNilSlice(p.EmotionTimeline),
		PDFAvailable:    p.PDFObjectKey != "",
	}
}

type facilityResponse struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Address string `json:"address,omitempty"`
}

func newFacilityResponse(f *database.Facility) facilityResponse {
	return facilityResponse{ID: f.ID, Name: f.Name, Type: f.Type, Address: f.Address}
}

type competencyResponse struct {
	ID                  uint     `json:"id"`
	Name                string   `json:"name"`
	ParentID            *uint    `json:"parent_id,omitempty"`
	RecordCitationCount int      `json:"record_citation_count"`
	RecommendedJobs     []string `json:"recommended_jobs,omitempty"`
}

func nonNilSlice[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
