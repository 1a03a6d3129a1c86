package llm

import (
	"fmt"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/stage"
)

// CrisisLine is appended to every reply sent while the mood is above the
// crisis threshold.
const CrisisLine = "如果你此刻有伤害自己的念头，请马上联系身边信任的人或当地的心理危机干预热线，你值得被帮助。"

const warningLine = "最近你承受了很多，记得照顾好自己。"

var lovedOne = map[string]string{
	"partner": "你的伴侣",
	"family":  "你的亲人",
	"pet":     "你的宠物",
}

var stageTemplates = map[stage.Stage]string{
	stage.Denial:     "我能感觉到，失去%s这件事还让你难以接受。不用急着去相信它，我会陪着你，慢慢来。",
	stage.Anger:      "你的愤怒是真实的，也是可以被理解的。失去%s本来就很不公平，想说什么都可以在这里说出来。",
	stage.Bargaining: "你一直在想“如果当初……”，这说明你有多在乎%s。那些遗憾并不是你的错。",
	stage.Depression: "想念%s的痛会很沉重。你不需要一个人扛着，愿意的话，和我说说现在最难熬的是什么。",
	stage.Acceptance: "听起来你正在慢慢找到和这份失去共处的方式。%s留下的爱会一直在你身上。",
}

const fallbackTemplate = "谢谢你愿意和我说这些。失去%s的感受很复杂，我在这里听你说。"

// Template renders the canned reply for r.
func Template(r Request) string {
	who, ok := lovedOne[r.UserType]
	if !ok {
		who = lovedOne["partner"]
	}
	tmpl, ok := stageTemplates[r.Stage]
	if !ok {
		tmpl = fallbackTemplate
	}
	reply := fmt.Sprintf(tmpl, who)

	switch r.Alert {
	case emotion.AlertCrisis:
		reply += "\n\n" + CrisisLine
	case emotion.AlertWarning:
		reply += warningLine
	}
	return reply
}
