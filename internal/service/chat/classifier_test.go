package chat

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "heritage", input: "Tell me about heritage sites", want: HeritageReply},
		{name: "cultural uppercase", input: "CULTURAL landmarks?", want: HeritageReply},
		{name: "heritage beats greeting", input: "hi, tell me about cultural heritage", want: HeritageReply},
		{name: "visit", input: "Can I visit on Sunday?", want: VisitReply},
		{name: "tour", input: "guided Tours", want: VisitReply},
		{name: "visit beats history", input: "visit a history museum", want: VisitReply},
		{name: "history", input: "What is the history here", want: HistoryReply},
		{name: "historical", input: "historical periods", want: HistoryReply},
		{name: "hello", input: "Hello", want: GreetingReply},
		{name: "hi substring", input: "what is this", want: GreetingReply},
		{name: "fallback", input: "weather tomorrow", want: FallbackReply},
		{name: "empty", input: "", want: FallbackReply},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.input); got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	input := "Planning a tour of historical sites"
	first := Classify(input)
	for i := 0; i < 10; i++ {
		if got := Classify(input); got != first {
			t.Fatalf("Classify changed result on call %d", i)
		}
	}
}
