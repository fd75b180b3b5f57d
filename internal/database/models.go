package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role 表示用户角色，资料创建后不可更改。
type Role string

const (
	RoleTeacher    Role = "Teacher"
	RoleParent     Role = "Parent"
	RoleIndividual Role = "Individual"
	RoleStaff      Role = "Staff"
)

// Valid 判断角色是否为已知取值。
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleParent, RoleIndividual, RoleStaff:
		return true
	}
	return false
}

// SchoolContext 表示记录所属的时间段：上学前 / 在校 / 放学后。
type SchoolContext string

const (
	ContextPre    SchoolContext = "Pre"
	ContextDuring SchoolContext = "During"
	ContextPost   SchoolContext = "Post"
)

func (s SchoolContext) Valid() bool {
	switch s {
	case ContextPre, ContextDuring, ContextPost:
		return true
	}
	return false
}

// AIFlag 是叙述文本的语气标记。
type AIFlag string

const (
	FlagAggressive AIFlag = "AGG"
	FlagVague      AIFlag = "VAG"
	FlagNeutral    AIFlag = "NEU"
)

// Facility 表示学校/机构。
type Facility struct {
	gorm.Model
	Name    string `gorm:"uniqueIndex;size:128;not null"`
	Type    string `gorm:"size:64"`
	Address string `gorm:"size:255"`
}

// User 表示系统中的账号资料，与外部认证主体一一对应。
type User struct {
	gorm.Model
	PrincipalID       string `gorm:"uniqueIndex;size:128;not null"`
	Email             string `gorm:"size:255"`
	Role              Role   `gorm:"size:16;not null"`
	DisplayName       string `gorm:"size:64"`
	PhotoURL          string `gorm:"size:512"`
	Hoching           string `gorm:"size:32"` // 监护人称呼（妈妈、爸爸……）
	FacilityID        *uint  `gorm:"index"`
	ManagedStudentIDs datatypes.JSONSlice[uint]
	Affiliation       string `gorm:"size:128"`
}

// Student 表示被记录的学生/当事人。监护关系保存在 StudentGuardian 中。
type Student struct {
	gorm.Model
	Name                   string `gorm:"size:64;not null"`
	Affiliation            string `gorm:"size:128;not null"`
	PhotoURL               string `gorm:"size:512"`
	PortfolioCompletionPct int    `gorm:"not null;default:0"`
	Guardians              []StudentGuardian
}

// StudentGuardian 是学生与拥有读写权限的用户之间的关联。
type StudentGuardian struct {
	ID        uint `gorm:"primaryKey"`
	StudentID uint `gorm:"uniqueIndex:idx_student_guardian,priority:1;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_student_guardian,priority:2;index;not null"`
	CreatedAt time.Time
}

// ChecklistItem 只属于所在的 Record，没有独立生命周期。
type ChecklistItem struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Checked bool   `json:"checked"`
}

// Record 是核心的观察记录。ID 单调递增，兼作同一时刻记录的插入序号。
type Record struct {
	ID                     uint          `gorm:"primaryKey"`
	StudentID              uint          `gorm:"index:idx_records_student_created,priority:1;not null"`
	AuthorID               uint          `gorm:"uniqueIndex:idx_records_author_idem,priority:1;not null"`
	AuthorRole             Role          `gorm:"size:16;not null"`
	SchoolContext          SchoolContext `gorm:"size:8;not null"`
	NarrativeTextRaw       string        `gorm:"type:text;not null"`
	NarrativeTextShared    string        `gorm:"type:text;not null"`
	AINeutralized          bool          `gorm:"not null;default:false"`
	AIFlag                 *AIFlag       `gorm:"size:8"`
	EmotionCardID          int           `gorm:"not null;default:0"`
	LinkedRecordID         *uint         `gorm:"index"`
	ExtractedCompetencyIDs datatypes.JSONSlice[uint]
	MediaURLs              datatypes.JSONSlice[string]
	FileURLs               datatypes.JSONSlice[string]
	ChecklistItems         datatypes.JSONSlice[ChecklistItem]
	IdempotencyKey         *string   `gorm:"uniqueIndex:idx_records_author_idem,priority:2;size:128"`
	CreatedAt              time.Time `gorm:"index:idx_records_student_created,priority:2"`
	UpdatedAt              time.Time
	DeletedAt              gorm.DeletedAt `gorm:"index"`
}

// Competency 是分层的能力标签。RecordCitationCount 为冗余计数，只由作品集聚合维护。
type Competency struct {
	gorm.Model
	Name                string `gorm:"uniqueIndex;size:64;not null"`
	ParentID            *uint  `gorm:"index"`
	Keywords            datatypes.JSONSlice[string]
	RecommendedJobs     datatypes.JSONSlice[string]
	RecordCitationCount int `gorm:"not null;default:0"`
}

// RecordCompetency 记录某条 Record 引用了哪些能力，用于统计引用次数。
type RecordCompetency struct {
	RecordID     uint `gorm:"primaryKey"`
	CompetencyID uint `gorm:"primaryKey;index"`
	StudentID    uint `gorm:"index;not null"`
}

// Comment 挂在某条 Record 上，由作者创建/删除。
type Comment struct {
	gorm.Model
	RecordID   uint   `gorm:"index;not null"`
	AuthorID   uint   `gorm:"index;not null"`
	AuthorRole Role   `gorm:"size:16;not null"`
	Content    string `gorm:"type:text;not null"`
}

// KeyCompetency 是作品集中的核心能力快照。
type KeyCompetency struct {
	CompetencyID        uint     `json:"competency_id"`
	Name                string   `json:"name"`
	ParentID            *uint    `json:"parent_id,omitempty"`
	RecordCitationCount int      `json:"record_citation_count"`
	RecommendedJobs     []string `json:"recommended_jobs,omitempty"`
}

// EmotionTimelineEntry 是情绪时间线上的一个点。
type EmotionTimelineEntry struct {
	RecordID      uint      `json:"record_id"`
	Date          time.Time `json:"date"`
	EmotionCardID int       `json:"emotion_card_id"`
	EmotionLabel  string    `json:"emotion_label"`
}

// Portfolio 是按学生再生成的只读快照，不允许手工编辑。
type Portfolio struct {
	gorm.Model
	StudentID       uint      `gorm:"uniqueIndex;not null"`
	GeneratedAt     time.Time `gorm:"not null"`
	CompletionPct   int       `gorm:"not null;default:0"`
	RecordCount     int       `gorm:"not null;default:0"`
	SummaryText     string    `gorm:"type:text"`
	KeyCompetencies datatypes.JSONSlice[KeyCompetency]
	RecommendedJobs datatypes.JSONSlice[string]
	EmotionTimeline datatypes.JSONSlice[EmotionTimelineEntry]
	PDFObjectKey    string `gorm:"size:512"`
}

// StringList 把字符串切片包装为 JSON 列的值，用于按列更新。
func StringList(values []string) datatypes.JSONSlice[string] {
	if values == nil {
		values = []string{}
	}
	return datatypes.NewJSONSlice(values)
}
