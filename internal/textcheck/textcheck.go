// Package textcheck 对记录叙述做语气标记，并给出中性化改写建议。
// 规则基于词表，结果可重复；后续接入模型时保持同样的 Result 结构即可。
package textcheck

import (
	"regexp"
	"sort"
	"strings"

	"dreamGarden/internal/database"
)

// Result 是一次分析的结果。
type Result struct {
	Flag       database.AIFlag `json:"flag"`
	Suggestion string          `json:"suggestion"`
	Matches    []string        `json:"matches,omitempty"`
}

// 情绪化表达 → 中性表达。
var aggressiveReplacements = map[string]string{
	"도대체":   "",
	"왜 또":   "다시",
	"맨날":    "자주",
	"항상 말썽": "어려움이 있음",
	"말썽":    "어려움",
	"짜증나":   "힘들",
	"짜증":    "불편함",
	"미치겠":   "어렵",
	"최악":    "어려운 상황",
	"못됐":    "힘들어했",
	"난리":    "큰 반응",
	"고집불통":  "자기 주장이 강함",
}

// 模糊表达：独立出现的填充词直接删除，其余只做标记，由作者补充具体情况。
var vagueFillers = []string{"그냥", "뭔가", "좀", "대충", "별로"}

var vaguePhrases = []string{"이상했", "그런 것 같", "어쩌다"}

var (
	repeatedPunct = regexp.MustCompile(`([!?])[!?]+`)
	spaces        = regexp.MustCompile(`[ \t]{2,}`)
)

// orderedKeys 按长度降序，保证较长的短语优先替换。
func orderedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

var aggressiveKeys = orderedKeys(aggressiveReplacements)

// Analyze 给出语气标记与改写建议。
func Analyze(text string) Result {
	trimmed := strings.TrimSpace(text)
	var matches []string

	suggestion := trimmed
	aggressive := false
	for _, key := range aggressiveKeys {
		if strings.Contains(suggestion, key) {
			aggressive = true
			matches = append(matches, key)
			suggestion = strings.ReplaceAll(suggestion, key, aggressiveReplacements[key])
		}
	}
	if repeatedPunct.MatchString(suggestion) {
		aggressive = true
		suggestion = repeatedPunct.ReplaceAllString(suggestion, ".")
	}

	vague := false
	for _, word := range vagueFillers {
		if containsWord(suggestion, word) {
			vague = true
			matches = append(matches, word)
			suggestion = removeWord(suggestion, word)
		}
	}
	for _, phrase := range vaguePhrases {
		if strings.Contains(suggestion, phrase) {
			vague = true
			matches = append(matches, phrase)
		}
	}

	suggestion = strings.TrimSpace(spaces.ReplaceAllString(suggestion, " "))

	flag := database.FlagNeutral
	switch {
	case aggressive:
		flag = database.FlagAggressive
	case vague || trimmed == "":
		flag = database.FlagVague
	}
	if flag == database.FlagNeutral {
		suggestion = trimmed
	}

	return Result{Flag: flag, Suggestion: suggestion, Matches: matches}
}

// containsWord 只匹配独立的词，避免误伤 "좀비" 之类。
func containsWord(text, word string) bool {
	for _, field := range strings.Fields(text) {
		if field == word {
			return true
		}
	}
	return false
}

func removeWord(text, word string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, field := range fields {
		if field != word {
			kept = append(kept, field)
		}
	}
	return strings.Join(kept, " ")
}
