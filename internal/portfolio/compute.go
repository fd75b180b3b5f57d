package portfolio

import (
	"fmt"
	"sort"
	"strings"

	"dreamGarden/internal/catalog"
	"dreamGarden/internal/database"
)

// 完成度权重：记录数量最多贡献 50，勾选的清单项最多 30，带媒体的记录最多 20。
// 每一项都只随数据增加而增加，因此总分单调不减。
const (
	recordWeight    = 5
	recordCap       = 50
	checkedWeight   = 3
	checkedCap      = 30
	withMediaWeight = 4
	withMediaCap    = 20
)

// CompletionPct 计算作品集完成度（0–100）。
func CompletionPct(records []database.Record) int {
	checked, withMedia := 0, 0
	for _, rec := range records {
		for _, item := range rec.ChecklistItems {
			if item.Checked {
				checked++
			}
		}
		if len(rec.MediaURLs) > 0 {
			withMedia++
		}
	}
	total := min(recordCap, recordWeight*len(records)) +
		min(checkedCap, checkedWeight*checked) +
		min(withMediaCap, withMediaWeight*withMedia)
	return min(100, total)
}

// EmotionTimeline 为每条选择了情绪卡片的记录生成一个点，按 (CreatedAt, ID) 升序。
func EmotionTimeline(records []database.Record) []database.EmotionTimelineEntry {
	sorted := sortedAscending(records)
	out := make([]database.EmotionTimelineEntry, 0, len(sorted))
	for _, rec := range sorted {
		if rec.EmotionCardID == catalog.NoEmotion {
			continue
		}
		card, ok := catalog.LookupEmotion(rec.EmotionCardID)
		if !ok {
			continue
		}
		out = append(out, database.EmotionTimelineEntry{
			RecordID:      rec.ID,
			Date:          rec.CreatedAt.UTC(),
			EmotionCardID: card.ID,
			EmotionLabel:  card.Label,
		})
	}
	return out
}

// CitedCompetencyIDs 返回学生记录中引用过的能力 ID（升序）。
func CitedCompetencyIDs(records []database.Record) []uint {
	seen := map[uint]struct{}{}
	var ids []uint
	for _, rec := range records {
		for _, id := range rec.ExtractedCompetencyIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// KeyCompetencies 在学生引用过的能力中按 RecordCitationCount 降序、ID 升序取前 n 个。
func KeyCompetencies(cited []uint, competencies map[uint]database.Competency, n int) []database.KeyCompetency {
	candidates := make([]database.Competency, 0, len(cited))
	for _, id := range cited {
		if c, ok := competencies[id]; ok {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RecordCitationCount != candidates[j].RecordCitationCount {
			return candidates[i].RecordCitationCount > candidates[j].RecordCitationCount
		}
		return candidates[i].ID < candidates[j].ID
	})
	if n >= 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	out := make([]database.KeyCompetency, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, database.KeyCompetency{
			CompetencyID:        c.ID,
			Name:                c.Name,
			ParentID:            c.ParentID,
			RecordCitationCount: c.RecordCitationCount,
			RecommendedJobs:     append([]string{}, c.RecommendedJobs...),
		})
	}
	return out
}

// RecommendedJobs 按核心能力的排名合并推荐职业并去重。
func RecommendedJobs(key []database.KeyCompetency) []string {
	seen := map[string]struct{}{}
	jobs := []string{}
	for _, kc := range key {
		for _, job := range kc.RecommendedJobs {
			if _, ok := seen[job]; ok {
				continue
			}
			seen[job] = struct{}{}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Summary 生成确定性的韩文摘要。
func Summary(studentName string, recordCount int, key []database.KeyCompetency, timeline []database.EmotionTimelineEntry, jobs []string) string {
	if recordCount == 0 {
		return fmt.Sprintf("%s 학생의 기록이 아직 없습니다.", studentName)
	}

	parts := []string{fmt.Sprintf("%s 학생의 기록 %d건을 바탕으로 정리한 성장 포트폴리오입니다.", studentName, recordCount)}
	if len(key) > 0 {
		names := make([]string, 0, len(key))
		for _, kc := range key {
			names = append(names, kc.Name)
		}
		parts = append(parts, fmt.Sprintf("가장 자주 관찰된 역량은 %s입니다.", strings.Join(names, ", ")))
	}
	if label, ok := dominantEmotion(timeline); ok {
		parts = append(parts, fmt.Sprintf("기록에서 가장 많이 나타난 감정은 '%s'입니다.", label))
	}
	if len(jobs) > 0 {
		parts = append(parts, fmt.Sprintf("추천 직무: %s.", strings.Join(jobs, ", ")))
	}
	return strings.Join(parts, " ")
}

// dominantEmotion 返回出现次数最多的情绪，次数相同取卡片 ID 较小者。
func dominantEmotion(timeline []database.EmotionTimelineEntry) (string, bool) {
	counts := map[int]int{}
	labels := map[int]string{}
	for _, e := range timeline {
		counts[e.EmotionCardID]++
		labels[e.EmotionCardID] = e.EmotionLabel
	}
	best, bestCount := 0, 0
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id < best) {
			best, bestCount = id, n
		}
	}
	if bestCount == 0 {
		return "", false
	}
	return labels[best], true
}

func sortedAscending(records []database.Record) []database.Record {
	out := append([]database.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
