package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"dreamGarden/internal/database"
)

// CompetencySeed 描述默认能力树中的一个节点。
type CompetencySeed struct {
	Name     string
	Keywords []string
	Jobs     []string
	Children []CompetencySeed
}

// DefaultCompetencies 是初始化用的能力树：上层为领域，下层为具体能力。
var DefaultCompetencies = []CompetencySeed{
	{
		Name: "생활자립",
		Children: []CompetencySeed{
			{Name: "정리정돈", Keywords: []string{"정리", "정돈", "치웠", "청소"}, Jobs: []string{"물류 보조원", "도서관 사서 보조"}},
			{Name: "자기관리", Keywords: []string{"양치", "세수", "옷을 입", "준비물"}, Jobs: []string{"호텔 하우스키핑"}},
			{Name: "시간관리", Keywords: []string{"시간", "일정", "지각", "늦지"}, Jobs: []string{"사무 보조원"}},
		},
	},
	{
		Name: "사회성",
		Children: []CompetencySeed{
			{Name: "의사소통", Keywords: []string{"말했", "대화", "표현", "인사"}, Jobs: []string{"고객 응대 보조", "카페 바리스타"}},
			{Name: "협력", Keywords: []string{"함께", "도와", "협동", "친구"}, Jobs: []string{"제과제빵 보조"}},
		},
	},
	{
		Name: "직무기초",
		Children: []CompetencySeed{
			{Name: "집중력", Keywords: []string{"집중", "끝까지", "몰두"}, Jobs: []string{"품질 검사원", "데이터 라벨러"}},
			{Name: "손기능", Keywords: []string{"만들", "그리", "조립", "접었"}, Jobs: []string{"공예 작업자", "포장원"}},
		},
	},
}

// SeedCompetencies 按名称幂等写入默认能力树，返回新建数量。
func SeedCompetencies(ctx context.Context, db *gorm.DB, seeds []CompetencySeed) (int, error) {
	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var walk func(nodes []CompetencySeed, parentID *uint) error
		walk = func(nodes []CompetencySeed, parentID *uint) error {
			for _, node := range nodes {
				var existing database.Competency
				err := tx.Where("name = ?", node.Name).First(&existing).Error
				switch {
				case err == nil:
				case errors.Is(err, gorm.ErrRecordNotFound):
					existing = database.Competency{
						Name:            node.Name,
						ParentID:        parentID,
						Keywords:        node.Keywords,
						RecommendedJobs: node.Jobs,
					}
					if err := tx.Create(&existing).Error; err != nil {
						return fmt.Errorf("create competency %q: %w", node.Name, err)
					}
					created++
				default:
					return fmt.Errorf("query competency %q: %w", node.Name, err)
				}
				id := existing.ID
				if err := walk(node.Children, &id); err != nil {
					return err
				}
			}
			return nil
		}
		return walk(seeds, nil)
	})
	return created, err
}

// ListCompetencies 按 ID 返回全部能力标签。
func ListCompetencies(ctx context.Context, db *gorm.DB) ([]database.Competency, error) {
	var out []database.Competency
	err := database.Read(ctx, database.DefaultReadRetries, func() error {
		out = nil
		return db.WithContext(ctx).Order("id ASC").Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list competencies: %w", err)
	}
	return out, nil
}
