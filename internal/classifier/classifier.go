package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"ContentFlow/internal/llm"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/pkg/logger"
)

// Mode 表示请求的执行模式。
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

const systemPrompt = `You decide whether a content-management request needs one tool call or a multi-step plan.
Answer with exactly one word: "multi" if the request asks for several dependent or repeated operations, otherwise "single".`

type pattern struct {
	name string
	re   *regexp.Regexp
}

// patterns 的顺序固定，Explain 按此顺序返回命中项。
var patterns = []pattern{
	{name: "sequencing", re: regexp.MustCompile(`(?i)\S.*\bthen\s+\w+|\bfirst\b.+\bthen\b|\bafter\s+that\b|\bfollowed\s+by\b`)},
	{name: "enumeration", re: regexp.MustCompile(`(?i)\bstep\s+\d+|(^|\s)\d+[.)]\s+\w`)},
	{name: "breadth", re: regexp.MustCompile(`(?i)\b(each|every|all)\s+(of\s+the\s+)?(pages?|posts?|articles?|entries|entry|items?|sections?|products?|languages?|locales?)\b|\bmultiple\b`)},
	{name: "create_and_configure", re: regexp.MustCompile(`(?i)\b(create|add|build|make)\b.+\band\b.+\b(configure|set\s*up|setup|enable|connect)\b`)},
	{name: "analyze_and_fix", re: regexp.MustCompile(`(?i)\b(analy[sz]e|audit|review|check)\b.+\b(and|then)\b.+\b(fix|improve|optimi[sz]e|update|repair)\b`)},
}

// Heuristic 仅根据文本判断模式，相同输入总是得到相同结果。
func Heuristic(text string) Mode {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return ModeMulti
		}
	}
	return ModeSingle
}

// Explain 返回命中的模式名称。
func Explain(text string) []string {
	var matched []string
	for _, p := range patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
		}
	}
	return matched
}

// Classifier 优先询问快速模型，失败时回落到启发式规则。
type Classifier struct {
	labeler llm.Labeler
	logger  *slog.Logger
}

// New 创建 Classifier，labeler 可以为空。
func New(labeler llm.Labeler) *Classifier {
	return &Classifier{labeler: labeler, logger: logger.Named("classifier")}
}

// Classify 判断请求模式。模型回答除 "multi" 以外的任何内容都视为 single。
func (c *Classifier) Classify(ctx context.Context, text string) Mode {
	started := time.Now()
	defer func() { metrics.ObservePhase("classify", time.Since(started)) }()

	if c == nil || c.labeler == nil {
		return Heuristic(text)
	}
	label, err := c.labeler.Label(ctx, systemPrompt, text)
	if err != nil {
		mode := Heuristic(text)
		logger.With(ctx, c.logger).Warn("快速分类失败，使用启发式规则",
			slog.Any("error", err),
			slog.String("mode", string(mode)),
			slog.Any("patterns", Explain(text)))
		return mode
	}
	if strings.ToLower(strings.TrimSpace(label)) == string(ModeMulti) {
		return ModeMulti
	}
	return ModeSingle
}
