package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dreamGarden/internal/database"
	"dreamGarden/internal/database/dbtest"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/record"
	"dreamGarden/internal/student"
)

type memoryCache struct {
	mu    sync.Mutex
	items map[uint]database.Portfolio
	sets  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[uint]database.Portfolio{}}
}

func (c *memoryCache) Get(_ context.Context, studentID uint) (*database.Portfolio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[studentID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *memoryCache) Set(_ context.Context, p *database.Portfolio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.StudentID] = *p
	c.sets++
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, studentID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, studentID)
	return nil
}

type fixture struct {
	db      *gorm.DB
	records *record.Store
	agg     *Aggregator
	cache   *memoryCache
	parent  identity.Actor
	teacher identity.Actor
	student *database.Student
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	registry := student.NewRegistry(db, 0)
	cache := newMemoryCache()
	parent := dbtest.SeedUser(t, db, database.RoleParent)
	teacher := dbtest.SeedUser(t, db, database.RoleTeacher)
	return &fixture{
		db:      db,
		records: record.NewStore(db, registry, nil, nil, 0),
		agg:     NewAggregator(db, registry, cache, nil, 3, 0),
		cache:   cache,
		parent:  identity.Actor{UserID: parent.ID, Role: parent.Role},
		teacher: identity.Actor{UserID: teacher.ID, Role: teacher.Role},
		student: dbtest.SeedStudent(t, db, "민준", parent.ID, teacher.ID),
	}
}

func (f *fixture) create(t *testing.T, actor identity.Actor, in record.CreateInput) *database.Record {
	t.Helper()
	in.StudentID = f.student.ID
	if in.SchoolContext == "" {
		in.SchoolContext = database.ContextDuring
	}
	rec, err := f.records.Create(context.Background(), actor, in)
	require.NoError(t, err)
	return rec
}

func TestRegenerateEmptyStudent(t *testing.T) {
	f := newFixture(t)

	p, err := f.agg.Regenerate(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.CompletionPct)
	assert.Equal(t, 0, p.RecordCount)
	assert.Empty(t, p.EmotionTimeline)
	assert.Empty(t, p.KeyCompetencies)

	_, err = f.agg.Regenerate(context.Background(), 9999)
	assert.ErrorIs(t, err, errcode.NotFound)
}

func TestRegenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedCompetency(t, f.db, "정리정돈", nil, []string{"정리"}, "물류 보조원")
	dbtest.SeedCompetency(t, f.db, "협력", nil, []string{"함께"}, "제과제빵 보조")
	f.create(t, f.parent, record.CreateInput{NarrativeText: "방을 정리했어요.", EmotionCardID: 1})
	f.create(t, f.teacher, record.CreateInput{NarrativeText: "친구와 함께 정리했어요.", EmotionCardID: 8, MediaURLs: []string{"https://cdn.example.com/a.jpg"}})

	first, err := f.agg.Regenerate(ctx, f.student.ID)
	require.NoError(t, err)
	second, err := f.agg.Regenerate(ctx, f.student.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CompletionPct, second.CompletionPct)
	assert.Equal(t, first.EmotionTimeline, second.EmotionTimeline)
	assert.Equal(t, first.KeyCompetencies, second.KeyCompetencies)
	assert.Equal(t, first.RecommendedJobs, second.RecommendedJobs)
	assert.Equal(t, first.SummaryText, second.SummaryText)

	require.Len(t, first.KeyCompetencies, 2)
	assert.Equal(t, "정리정돈", first.KeyCompetencies[0].Name)
	assert.Equal(t, 2, first.KeyCompetencies[0].RecordCitationCount)
	assert.Equal(t, 1, first.KeyCompetencies[1].RecordCitationCount)

	var stored database.Competency
	require.NoError(t, f.db.Where("name = ?", "정리정돈").First(&stored).Error)
	assert.Equal(t, 2, stored.RecordCitationCount)

	var s database.Student
	require.NoError(t, f.db.First(&s, f.student.ID).Error)
	assert.Equal(t, first.CompletionPct, s.PortfolioCompletionPct)
}

func TestCompletionNeverDecreasesAsRecordsAreAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prev := 0
	for i := 0; i < 12; i++ {
		f.create(t, f.parent, record.CreateInput{
			NarrativeText:  "오늘의 기록",
			ChecklistItems: []database.ChecklistItem{{Label: "준비물", Checked: true}},
		})
		p, err := f.agg.Regenerate(ctx, f.student.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.CompletionPct, prev)
		prev = p.CompletionPct
	}
	assert.Equal(t, 50+30, prev)
}

func TestFailedRegenerationKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.parent, record.CreateInput{NarrativeText: "첫 기록", EmotionCardID: 2})
	before, err := f.agg.Regenerate(ctx, f.student.ID)
	require.NoError(t, err)

	f.create(t, f.parent, record.CreateInput{NarrativeText: "두 번째 기록", EmotionCardID: 3})

	boom := errors.New("disk full")
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_portfolio", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "portfolios" {
			_ = tx.AddError(boom)
		}
	}))
	_, err = f.agg.Regenerate(ctx, f.student.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errcode.Transient)
	require.NoError(t, f.db.Callback().Create().Remove("test:fail_portfolio"))

	var stored database.Portfolio
	require.NoError(t, f.db.Where("student_id = ?", f.student.ID).First(&stored).Error)
	assert.Equal(t, before.RecordCount, stored.RecordCount)
	assert.Len(t, stored.EmotionTimeline, 1)
	assert.Equal(t, before.GeneratedAt.UnixMicro(), stored.GeneratedAt.UnixMicro())
}

func TestGetUsesCacheThenStoreThenRegenerates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, f.parent, record.CreateInput{NarrativeText: "기록"})

	p, err := f.agg.Get(ctx, f.parent, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RecordCount)
	assert.Equal(t, 1, f.cache.sets)

	cached, err := f.agg.Get(ctx, f.teacher, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SummaryText, cached.SummaryText)
	assert.Equal(t, 1, f.cache.sets)

	require.NoError(t, f.cache.Invalidate(ctx, f.student.ID))
	fromDB, err := f.agg.Get(ctx, f.parent, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, fromDB.ID)

	stranger := dbtest.SeedUser(t, f.db, database.RoleParent)
	_, err = f.agg.Get(ctx, identity.Actor{UserID: stranger.ID, Role: stranger.Role}, f.student.ID)
	assert.ErrorIs(t, err, errcode.Forbidden)
}

func TestSetPDFObjectKeySurvivesRegeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.agg.SetPDFObjectKey(ctx, f.student.ID, "x"), errcode.NotFound)

	_, err := f.agg.Regenerate(ctx, f.student.ID)
	require.NoError(t, err)
	require.NoError(t, f.agg.SetPDFObjectKey(ctx, f.student.ID, "portfolios/1/portfolio.pdf"))

	p, err := f.agg.Regenerate(ctx, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, "portfolios/1/portfolio.pdf", p.PDFObjectKey)
}

// 민준：家长写上学前记录、老师写在校记录，关联后再生成作品集。
func TestMinjunScenario(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	registry := student.NewRegistry(db, 0)
	records := record.NewStore(db, registry, nil, nil, 0)
	agg := NewAggregator(db, registry, nil, nil, 5, 0)

	mom := dbtest.SeedUser(t, db, database.RoleParent)
	momActor := identity.Actor{UserID: mom.ID, Role: mom.Role}
	minjun, err := registry.CreateStudent(ctx, momActor, student.CreateInput{Name: "민준", Affiliation: "서울중, 3학년"})
	require.NoError(t, err)

	pre, err := records.Create(ctx, momActor, record.CreateInput{
		StudentID:     minjun.ID,
		SchoolContext: database.ContextPre,
		NarrativeText: "아침에 체험학습 간다고 신나 했어요.",
		EmotionCardID: 9,
	})
	require.NoError(t, err)
	during, err := records.Create(ctx, momActor, record.CreateInput{
		StudentID:     minjun.ID,
		SchoolContext: database.ContextDuring,
		NarrativeText: "체험학습에서 친구들과 함께 빵을 만들었어요.",
		EmotionCardID: 2,
	})
	require.NoError(t, err)

	linkedPre, linkedDuring, err := records.Link(ctx, momActor, pre.ID, during.ID)
	require.NoError(t, err)
	assert.Equal(t, during.ID, *linkedPre.LinkedRecordID)
	assert.Equal(t, pre.ID, *linkedDuring.LinkedRecordID)

	storedPre, err := records.Get(ctx, momActor, pre.ID)
	require.NoError(t, err)
	require.NotNil(t, storedPre.LinkedRecordID)
	assert.Equal(t, during.ID, *storedPre.LinkedRecordID)

	p, err := agg.Regenerate(ctx, minjun.ID)
	require.NoError(t, err)
	require.Len(t, p.EmotionTimeline, 2)
	assert.Equal(t, pre.ID, p.EmotionTimeline[0].RecordID)
	assert.Equal(t, during.ID, p.EmotionTimeline[1].RecordID)
	assert.False(t, p.EmotionTimeline[1].Date.Before(p.EmotionTimeline[0].Date))
	assert.Equal(t, "신나요", p.EmotionTimeline[0].EmotionLabel)
}

func TestRenderHTML(t *testing.T) {
	p := &database.Portfolio{
		CompletionPct:   42,
		SummaryText:     "민준 학생의 기록 3건을 바탕으로 <정리>",
		KeyCompetencies: []database.KeyCompetency{{Name: "협력", RecordCitationCount: 2}},
		RecommendedJobs: []string{"카페 바리스타"},
		EmotionTimeline: []database.EmotionTimelineEntry{{EmotionCardID: 1, EmotionLabel: "기뻐요"}},
	}
	html, err := RenderHTML(p, &database.Student{Name: "민준", Affiliation: "서울중"})
	require.NoError(t, err)
	assert.Contains(t, html, "민준의 성장 포트폴리오")
	assert.Contains(t, html, "완성도 42%")
	assert.Contains(t, html, "&lt;정리&gt;")
	assert.Contains(t, html, "카페 바리스타")
	assert.Contains(t, html, "😊 기뻐요")
}
