// Package distress implements the message classifier used by the chat
// session engine. It is a pure, deterministic keyword heuristic: no I/O, no
// state, no model calls. The quality bar is intentionally modest — it exists
// to catch explicit crisis language, and false positives are the accepted
// failure mode.
package distress

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Emotion labels assigned by Classify.
const (
	EmotionNeutral    = "neutral"
	EmotionHappy      = "happy"
	EmotionSad        = "sad"
	EmotionAngry      = "angry"
	EmotionAnxious    = "anxious"
	EmotionDistressed = "distressed"
	EmotionHopeful    = "hopeful"
)

// DistressThreshold is the level at or above which a message counts as
// distress on the numeric axis alone.
const DistressThreshold = 7

// Result is the classifier output for a single message.
type Result struct {
	// Emotion is the matched category label, or "neutral".
	Emotion string
	// Level is the 0–10 heuristic severity score.
	Level int
	// IsDistress reports whether the message should trigger the escalation
	// path: Level >= DistressThreshold, or the text contains a high-risk
	// phrase regardless of the computed level.
	IsDistress bool
}

// bucket pairs an emotion category with its keywords and base severity.
type bucket struct {
	emotion string
	level   int
	words   []string
}

// buckets are evaluated in fixed order; the first category with any keyword
// hit wins. Note "hopeless" lives in the distressed bucket, which is checked
// before hopeful's substring "hope" can claim it.
var buckets = []bucket{
	{EmotionHappy, 1, []string{
		"happy", "excited", "thrilled", "great news", "positive test", "pregnant",
		"it worked", "amazing", "wonderful", "grateful", "thank you",
	}},
	{EmotionSad, 5, []string{
		"sad", "crying", "cried", "tears", "heartbroken", "devastated", "grief",
		"miscarriage", "failed cycle", "negative test", "lonely", "depressed",
	}},
	{EmotionAngry, 5, []string{
		"angry", "furious", "unfair", "hate", "frustrated", "rage", "sick of",
		"fed up", "why me",
	}},
	{EmotionAnxious, 6, []string{
		"anxious", "anxiety", "worried", "worry", "scared", "afraid", "nervous",
		"terrified", "dread", "what if it fails",
	}},
	{EmotionDistressed, 8, []string{
		"can't take", "cant take", "breaking down", "falling apart", "desperate",
		"overwhelmed", "unbearable", "crisis", "panic", "hopeless",
	}},
	{EmotionHopeful, 2, []string{
		"hopeful", "hope", "optimistic", "looking forward", "fingers crossed",
		"trying again", "better tomorrow",
	}},
}

// highRiskPhrases always flag a message as distress, independent of the
// numeric level. Severity keywords catch explicit crisis language even when
// the coarse category assigns a lower score.
var highRiskPhrases = []string{
	"end my life",
	"kill myself",
	"suicide",
	"suicidal",
	"self harm",
	"self-harm",
	"hurt myself",
	"want to die",
	"no reason to live",
	"can't go on",
	"cant go on",
	"unbearable pain",
	"emergency",
	"hopeless",
	"no point anymore",
}

// lowerCaser folds input case Unicode-aware, so keyword matching holds for
// accented and non-ASCII text.
var lowerCaser = cases.Lower(language.Und)

// Classify scores a message. priorLevel is the distress level of the user's
// most recent earlier message (0 when there is none); when the prior exceeds
// the category base, the result is pulled up toward it so sustained distress
// decays gradually instead of vanishing on one calm sentence.
func Classify(text string, priorLevel int) Result {
	normalized := lowerCaser.String(strings.TrimSpace(text))
	if priorLevel < 0 {
		priorLevel = 0
	}
	if priorLevel > 10 {
		priorLevel = 10
	}
	if normalized == "" {
		return Result{Emotion: EmotionNeutral, Level: 0, IsDistress: false}
	}

	emotion := EmotionNeutral
	level := 3
	for _, b := range buckets {
		if containsAny(normalized, b.words) {
			emotion = b.emotion
			level = b.level
			break
		}
	}

	if priorLevel > level {
		// Round-up mean: sustained distress carries over, halving toward calm.
		level = (level + priorLevel + 1) / 2
	}
	if level > 10 {
		level = 10
	}

	isDistress := level >= DistressThreshold || containsAny(normalized, highRiskPhrases)
	return Result{Emotion: emotion, Level: level, IsDistress: isDistress}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
