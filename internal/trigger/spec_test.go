package trigger

import (
	"testing"
	"time"
)

func TestParseTimerForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Spec
	}{
		{"every 5 minutes", Spec{Kind: KindInterval, Every: 5 * time.Minute}},
		{"every minute", Spec{Kind: KindInterval, Every: time.Minute}},
		{"every hour", Spec{Kind: KindInterval, Every: time.Hour}},
		{"every 2 hours", Spec{Kind: KindInterval, Every: 2 * time.Hour}},
		{"every 3 days", Spec{Kind: KindInterval, Every: 72 * time.Hour}},
		{"every 2 weeks", Spec{Kind: KindInterval, Every: 14 * 24 * time.Hour}},
		{"every hour at :30", Spec{Kind: KindCron, Cron: "30 * * * *"}},
		{"every day at 09:00", Spec{Kind: KindCron, Cron: "0 9 * * *"}},
		{"every day at 23:59", Spec{Kind: KindCron, Cron: "59 23 * * *"}},
		{"every monday at 08:00", Spec{Kind: KindCron, Cron: "0 8 * * 1"}},
		{"every sunday", Spec{Kind: KindCron, Cron: "0 9 * * 0"}},
		{"Every Saturday At 14:15", Spec{Kind: KindCron, Cron: "15 14 * * 6"}},
		{"at 14:30 daily", Spec{Kind: KindCron, Cron: "30 14 * * *"}},
		{"at 06:05", Spec{Kind: KindCron, Cron: "5 6 * * *"}},
		{"cron: 0 */6 * * *", Spec{Kind: KindCron, Cron: "0 */6 * * *"}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseWatchForms(t *testing.T) {
	t.Parallel()

	got, err := Parse("on_file_change: /var/Log/App.log")
	if err != nil {
		t.Fatalf("file watch: %v", err)
	}
	if got.Kind != KindFileWatch || got.Path != "/var/Log/App.log" {
		t.Fatalf("file watch spec = %+v, path casing must be preserved", got)
	}

	got, err = Parse("on_url_change: https://example.com/API/Status")
	if err != nil {
		t.Fatalf("url watch: %v", err)
	}
	if got.Kind != KindURLWatch || got.URL != "https://example.com/API/Status" {
		t.Fatalf("url watch spec = %+v", got)
	}

	got, err = Parse("on_resource_threshold")
	if err != nil {
		t.Fatalf("resource watch: %v", err)
	}
	if got.Kind != KindResource {
		t.Fatalf("resource watch kind = %v, want %v", got.Kind, KindResource)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"whenever",
		"every",
		"every 0 minutes",
		"every 5 fortnights",
		"every day at 25:00",
		"every hour at 30", // minute anchor needs ":MM"
		"every 2 days at 09:00",
		"every 2 hours at :30",
		"at noon",
		"cron:",
		"on_file_change",
		"on_url_change: ftp://example.com",
	}
	for _, in := range bad {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}
