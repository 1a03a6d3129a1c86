package stage

// defaultKeywords are the bilingual keyword and phrase sets per stage.
// Phrases are tokenized with Tokenize before matching, so a Chinese phrase
// matches as a run of Han characters and "if only" as two adjacent words.
var defaultKeywords = map[Stage][]string{
	Denial: {
		"can't believe", "cannot believe", "don't believe", "not real", "isn't real",
		"not true", "isn't true", "no way", "impossible", "unreal", "dream",
		"nightmare", "wake up", "didn't happen", "still here", "coming back",
		"pretend", "mistake", "deny", "refuse",
		"不相信", "不可能", "不是真的", "假的", "做梦", "梦", "还在", "会回来", "没有发生", "不接受",
	},
	Anger: {
		"angry", "anger", "furious", "rage", "mad", "hate", "unfair", "why me",
		"blame", "fault", "pissed", "resent", "how could", "damn", "sick of",
		"生气", "愤怒", "恨", "不公平", "凭什么", "怪", "讨厌", "气死", "为什么是我",
	},
	Bargaining: {
		"if only", "what if", "should have", "could have", "would have",
		"i wish", "wish", "promise", "one more", "give anything", "do anything",
		"pray", "praying", "trade", "bargain", "regret",
		"如果", "要是", "早知道", "本来", "假如", "祈祷", "后悔", "愿意", "换回",
	},
	Depression: {
		"sad", "empty", "hopeless", "crying", "cry", "lonely", "alone",
		"meaningless", "tired", "exhausted", "numb", "gone", "miss", "pain",
		"hurt", "depressed", "worthless", "can't go on", "give up", "dark",
		"难过", "伤心", "空虚", "绝望", "哭", "孤独", "想念", "痛", "累", "没有意义", "活不下去",
	},
	Acceptance: {
		"accept", "accepted", "peace", "peaceful", "okay", "moving on", "move on",
		"grateful", "thankful", "remember", "memories", "cherish", "heal",
		"healing", "better", "let go", "hope", "smile",
		"接受", "平静", "释怀", "感恩", "回忆", "珍惜", "好多了", "放下", "希望", "向前",
	},
}

type keywordSet struct {
	phrases [][]string
}

func compileKeywords(src map[Stage][]string) [Count]keywordSet {
	var sets [Count]keywordSet
	for i, s := range All {
		for _, phrase := range src[s] {
			toks := Tokenize(phrase)
			if len(toks) == 0 {
				continue
			}
			sets[i].phrases = append(sets[i].phrases, toks)
		}
	}
	return sets
}

// matched returns how many tokens are covered by at least one phrase of the
// set. A token covered by two overlapping phrases counts once, so the result
// never exceeds len(tokens).
func (k keywordSet) matched(tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	covered := make([]bool, len(tokens))
	for _, p := range k.phrases {
		for i := 0; i+len(p) <= len(tokens); i++ {
			if equalRun(tokens[i:i+len(p)], p) {
				for j := range p {
					covered[i+j] = true
				}
			}
		}
	}
	n := 0
	for _, c := range covered {
		if c {
			n++
		}
	}
	return n
}

func equalRun(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
