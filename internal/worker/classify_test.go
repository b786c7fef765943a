package worker

import (
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	settings := testSettings(t)
	cases := []struct {
		name      string
		req       *http.Request
		intercept bool
		reason    string
		kind      Kind
	}{
		{"post", request(http.MethodPost, "http://app.local/api/books", nil), false, ReasonMethod, ""},
		{"head", request(http.MethodHead, "http://app.local/", nil), false, ReasonMethod, ""},
		{"cross origin", request(http.MethodGet, "http://cdn.example.com/static/app.js", nil), false, ReasonCrossOrigin, ""},
		{"other scheme", request(http.MethodGet, "https://app.local/static/app.js", nil), false, ReasonCrossOrigin, ""},
		{"explicit default port", request(http.MethodGet, "http://app.local:80/static/app.js", nil), true, "", KindStatic},
		{"navigation", navigation("http://app.local/about"), true, "", KindNavigation},
		{"navigation to static path", navigation("http://app.local/static/offline.html"), true, "", KindNavigation},
		{"document dest", request(http.MethodGet, "http://app.local/", map[string]string{"Sec-Fetch-Dest": "document"}), true, "", KindNavigation},
		{"accept html", request(http.MethodGet, "http://app.local/", map[string]string{"Accept": "text/html,application/xhtml+xml"}), true, "", KindNavigation},
		{"cors fetch of html", request(http.MethodGet, "http://app.local/fragment", map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}), true, "", KindOther},
		{"static", request(http.MethodGet, "http://app.local/static/app.js", nil), true, "", KindStatic},
		{"cacheable api", request(http.MethodGet, "http://app.local/api/books?page=2", nil), true, "", KindCacheableAPI},
		{"cacheable api is exact", request(http.MethodGet, "http://app.local/api/books/1", nil), true, "", KindAPI},
		{"api", request(http.MethodGet, "http://app.local/api/profile", nil), true, "", KindAPI},
		{"other", request(http.MethodGet, "http://app.local/favicon.ico", nil), true, "", KindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := settings.Classify(tc.req)
			if got.Intercept != tc.intercept || got.Reason != tc.reason || got.Kind != tc.kind {
				t.Fatalf("Classify() = %+v, want intercept=%v reason=%q kind=%q", got, tc.intercept, tc.reason, tc.kind)
			}
		})
	}
}

func TestRulesFollowPriorityOrder(t *testing.T) {
	rules := testSettings(t).Rules()
	want := []Kind{KindNavigation, KindStatic, KindCacheableAPI, KindAPI, KindOther}
	if len(rules) != len(want) {
		t.Fatalf("rule count mismatch: %d", len(rules))
	}
	for i, kind := range want {
		if rules[i].Kind != kind {
			t.Fatalf("rule %d: got %s want %s", i, rules[i].Kind, kind)
		}
	}
	if rules[1].Cache != "bible-ai-static-v2" || rules[1].Strategy != "stale-while-revalidate" {
		t.Fatalf("unexpected static rule: %+v", rules[1])
	}
}
