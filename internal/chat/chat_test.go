package chat

import "testing"

func TestEstimateTextRoundsUp(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{text: "", want: 0},
		{text: "a", want: 1},
		{text: "abcd", want: 1},
		{text: "abcde", want: 2},
		{text: "abcdefgh", want: 2},
	}
	for _, tc := range cases {
		if got := EstimateText(tc.text); got != tc.want {
			t.Fatalf("EstimateText(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestEstimateMessageAddsOverhead(t *testing.T) {
	msg := User("abcdefgh")
	if got := EstimateMessage(msg); got != 2+MessageOverhead {
		t.Fatalf("expected %d, got %d", 2+MessageOverhead, got)
	}
	if got := EstimateMessages([]Message{msg, msg}); got != 2*(2+MessageOverhead) {
		t.Fatalf("unexpected total %d", got)
	}
}

func TestSanitizeDropsBlankAndTrims(t *testing.T) {
	in := []Message{User("  hi  "), Assistant("   "), User("\n"), Assistant("ok")}
	out := Sanitize(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Content != "hi" || out[1].Content != "ok" {
		t.Fatalf("unexpected contents: %+v", out)
	}
	if in[0].Content != "  hi  " {
		t.Fatalf("input was modified")
	}
}

func TestSplitSystemKeepsFirstSystemMessage(t *testing.T) {
	system, turns := SplitSystem([]Message{System("a"), User("u"), System("b"), Assistant("x")})
	if system != "a" {
		t.Fatalf("expected first system prompt, got %q", system)
	}
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}
