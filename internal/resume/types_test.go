package resume

import "testing"

func TestSummaryPrefersStructuredContent(t *testing.T) {
	c, err := Parse([]byte(`{"name":"Li Wei","headline":"Backend engineer","items":[
		{"id":"1","type":"experience","title":"Acme","content":"Led the   billing\nmigration"},
		{"id":"2","type":"skills","content":"  "}
	]}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	got := Summary(c, "raw text that should be ignored", 0)
	want := "Li Wei - Backend engineer\n[Acme] Led the billing migration"
	if got != want {
		t.Fatalf("unexpected summary:\n got %q\nwant %q", got, want)
	}
}

func TestSummaryFallsBackToRawTextAndTruncates(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	got := Summary(c, "  简历原文内容  ", 4)
	if got != "简历原文" {
		t.Fatalf("expected rune-truncated raw text, got %q", got)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"items":`)); err == nil {
		t.Fatal("expected error for malformed content")
	}
}
