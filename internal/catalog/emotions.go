package catalog

// EmotionCard 是固定的情绪卡片参考数据。
type EmotionCard struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

// NoEmotion 表示记录未选择情绪卡片。
const NoEmotion = 0

var emotionCards = []EmotionCard{
	{ID: 1, Label: "기뻐요", Icon: "😊"},
	{ID: 2, Label: "행복해요", Icon: "😄"},
	{ID: 3, Label: "슬퍼요", Icon: "😢"},
	{ID: 4, Label: "화나요", Icon: "😠"},
	{ID: 5, Label: "혼란스러워요", Icon: "😵"},
	{ID: 6, Label: "우울해요", Icon: "😔"},
	{ID: 7, Label: "불안해요", Icon: "😰"},
	{ID: 8, Label: "편안해요", Icon: "😌"},
	{ID: 9, Label: "신나요", Icon: "🤗"},
	{ID: 10, Label: "피곤해요", Icon: "😫"},
}

// EmotionCards 返回卡片目录的副本。
func EmotionCards() []EmotionCard {
	out := make([]EmotionCard, len(emotionCards))
	copy(out, emotionCards)
	return out
}

// LookupEmotion 按 ID 查找情绪卡片。
func LookupEmotion(id int) (EmotionCard, bool) {
	for _, card := range emotionCards {
		if card.ID == id {
			return card, true
		}
	}
	return EmotionCard{}, false
}

// ValidEmotion 判断 ID 是否可以写入 Record（0 表示未选择）。
func ValidEmotion(id int) bool {
	if id == NoEmotion {
		return true
	}
	_, ok := LookupEmotion(id)
	return ok
}
