package distress

import "testing"

func TestClassify_DefaultNeutral(t *testing.T) {
	r := Classify("How do I track ovulation?", 0)
	if r.Emotion != EmotionNeutral {
		t.Fatalf("expected neutral, got %q", r.Emotion)
	}
	if r.IsDistress {
		t.Fatalf("neutral question must not be distress: %+v", r)
	}
}

func TestClassify_EmptyText(t *testing.T) {
	r := Classify("   ", 9)
	if r.Emotion != EmotionNeutral || r.Level != 0 || r.IsDistress {
		t.Fatalf("empty text should be neutral/0/false, got %+v", r)
	}
}

func TestClassify_CategoryOrder_FirstMatchWins(t *testing.T) {
	// "sad" appears before "angry" in category order; a message containing
	// keywords of both resolves to the earlier category.
	r := Classify("I am so sad and angry about this", 0)
	if r.Emotion != EmotionSad {
		t.Fatalf("expected sad (first category hit), got %q", r.Emotion)
	}
	if r.Level != 5 {
		t.Fatalf("expected sad base level 5, got %d", r.Level)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	r := Classify("I Am OVERWHELMED", 0)
	if r.Emotion != EmotionDistressed {
		t.Fatalf("expected distressed, got %q", r.Emotion)
	}
	if !r.IsDistress {
		t.Fatalf("level %d should cross the threshold", r.Level)
	}
}

func TestClassify_ThresholdPhrase_OverridesLowLevel(t *testing.T) {
	// The message matches no severe category, so its numeric level stays
	// below 7 — the phrase list must still flag it.
	r := Classify("I want to end my life", 0)
	if r.Level >= DistressThreshold {
		t.Fatalf("precondition failed: level %d should be below threshold", r.Level)
	}
	if !r.IsDistress {
		t.Fatalf("high-risk phrase must flag distress: %+v", r)
	}
}

func TestClassify_CantGoOnVariants(t *testing.T) {
	for _, text := range []string{
		"I can't go on, I need help",
		"i cant go on anymore",
	} {
		if r := Classify(text, 0); !r.IsDistress {
			t.Fatalf("%q must classify as distress, got %+v", text, r)
		}
	}
}

func TestClassify_HopelessIsNotHopeful(t *testing.T) {
	r := Classify("everything feels hopeless", 0)
	if r.Emotion == EmotionHopeful {
		t.Fatalf("'hopeless' must not match the hopeful bucket")
	}
	if !r.IsDistress {
		t.Fatalf("hopelessness terms must flag distress: %+v", r)
	}
}

func TestClassify_PriorLevelCarriesOver(t *testing.T) {
	// Neutral text with no prior stays calm.
	calm := Classify("the weather is fine today", 0)
	if calm.Level != 3 || calm.IsDistress {
		t.Fatalf("unexpected calm result: %+v", calm)
	}

	// The same text after an extreme prior is pulled upward.
	after := Classify("the weather is fine today", 10)
	if after.Level <= calm.Level {
		t.Fatalf("prior level should raise the score: %+v", after)
	}

	// Prior never lowers a higher current level.
	severe := Classify("this is unbearable, a total crisis", 2)
	if severe.Level != 8 {
		t.Fatalf("low prior must not dilute a severe level: %+v", severe)
	}
}

func TestClassify_PriorClamped(t *testing.T) {
	if r := Classify("fine", 99); r.Level > 10 {
		t.Fatalf("level must stay within 0..10, got %d", r.Level)
	}
	if r := Classify("fine", -5); r.Level != 3 {
		t.Fatalf("negative prior must be ignored, got %+v", r)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	a := Classify("I am worried about the transfer", 4)
	for i := 0; i < 50; i++ {
		if b := Classify("I am worried about the transfer", 4); b != a {
			t.Fatalf("classifier must be deterministic: %+v vs %+v", a, b)
		}
	}
}

func TestClassify_HappyAndHopeful(t *testing.T) {
	if r := Classify("Positive test this morning, we are thrilled!", 0); r.Emotion != EmotionHappy || r.IsDistress {
		t.Fatalf("unexpected happy result: %+v", r)
	}
	if r := Classify("fingers crossed for the next round", 0); r.Emotion != EmotionHopeful || r.IsDistress {
		t.Fatalf("unexpected hopeful result: %+v", r)
	}
}
