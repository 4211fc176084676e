package router

import (
	"math"
	"testing"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

func defaultRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(TableFromConfig(config.DefaultRouting()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestRoute_Keywords(t *testing.T) {
	r := defaultRouter(t)
	tests := []struct {
		text   string
		worker string
	}{
		{"Mennyibe kerül az iPhone 15?", "product"},
		{"Hol van a rendelésem?", "order"},
		{"Tudnál ajánlani valamit?", "recommendation"},
		{"Van most kupon?", "marketing"},
		{"Szia!", "general"},
		{"IPHONE vagy SAMSUNG?", "product"},
		{"Where is my order? I need tracking info", "order"},
	}
	for _, tt := range tests {
		got, _ := r.Route(tt.text)
		if got != tt.worker {
			t.Errorf("Route(%q) = %s, want %s", tt.text, got, tt.worker)
		}
	}
}

func TestRoute_EmptyGoesToDefault(t *testing.T) {
	r := defaultRouter(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		worker, scores := r.Route(text)
		if worker != "general" {
			t.Errorf("Route(%q) = %s, want general", text, worker)
		}
		if len(scores) != 1 || scores["general"] != 1 {
			t.Errorf("Route(%q) scores = %v, want only the general baseline", text, scores)
		}
	}
}

func TestRoute_ScoresCountOccurrences(t *testing.T) {
	r := defaultRouter(t)
	_, scores := r.Route("rendelés, még egy rendelés")
	if scores["order"] != 6 {
		t.Errorf("expected order score 6, got %d", scores["order"])
	}
	if scores["general"] != 1 {
		t.Errorf("expected general baseline 1, got %d", scores["general"])
	}
}

func TestRoute_TieBrokenByPriority(t *testing.T) {
	r := defaultRouter(t)
	worker, scores := r.Route("kupon rendelés")
	if scores["order"] != scores["marketing"] {
		t.Fatalf("expected a tie, got %v", scores)
	}
	if worker != "order" {
		t.Errorf("expected order to win the tie by priority, got %s", worker)
	}
}

func TestRoute_BaselineTieGoesByPriority(t *testing.T) {
	r, err := New(Table{
		DefaultWorker: "general",
		Priority:      []string{"product", "general"},
		Keywords:      map[string]map[string]int{"product": {"widget": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	worker, _ := r.Route("widget")
	if worker != "product" {
		t.Errorf("expected product to beat the baseline on priority, got %s", worker)
	}
}

func TestRoute_UnrankedTieByName(t *testing.T) {
	r, err := New(Table{
		DefaultWorker: "general",
		Keywords: map[string]map[string]int{
			"zeta":  {"foo": 2},
			"alpha": {"foo": 2},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	worker, _ := r.Route("foo")
	if worker != "alpha" {
		t.Errorf("expected alpha to win an unranked tie, got %s", worker)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r := defaultRouter(t)
	text := "iphone rendelés kupon ajánl"
	first, firstScores := r.Route(text)
	for range 200 {
		got, scores := r.Route(text)
		if got != first {
			t.Fatalf("non-deterministic routing: %s vs %s", got, first)
		}
		for k, v := range firstScores {
			if scores[k] != v {
				t.Fatalf("non-deterministic score for %s: %d vs %d", k, scores[k], v)
			}
		}
	}
}

func TestDecide_Confidence(t *testing.T) {
	r := defaultRouter(t)
	d := r.Decide("iphone")
	if d.Worker != "product" {
		t.Fatalf("expected product, got %s", d.Worker)
	}
	if math.Abs(d.Confidence-0.75) > 1e-9 {
		t.Errorf("expected confidence 0.75, got %f", d.Confidence)
	}

	d = r.Decide("")
	if d.Confidence != 1 {
		t.Errorf("expected confidence 1 for the lone baseline, got %f", d.Confidence)
	}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		ok    bool
	}{
		{"default routing", TableFromConfig(config.DefaultRouting()), true},
		{"missing default", Table{}, false},
		{"duplicate priority", Table{DefaultWorker: "g", Priority: []string{"a", "a"}}, false},
		{"zero weight", Table{DefaultWorker: "g", Keywords: map[string]map[string]int{"a": {"x": 0}}}, false},
		{"blank keyword", Table{DefaultWorker: "g", Keywords: map[string]map[string]int{"a": {" ": 1}}}, false},
	}
	for _, tt := range tests {
		err := tt.table.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() error = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if _, nerr := New(tt.table); (nerr == nil) != tt.ok {
			t.Errorf("%s: New() error = %v, want ok=%v", tt.name, nerr, tt.ok)
		}
	}
}

func TestTableFromConfig_LowercasesKeywords(t *testing.T) {
	table := TableFromConfig(&config.RoutingConfig{
		DefaultWorker: "general",
		Keywords:      map[string]map[string]int{"product": {"iPhone": 3}},
	})
	if table.Keywords["product"]["iphone"] != 3 {
		t.Errorf("expected lower-cased keyword, got %v", table.Keywords["product"])
	}
}

func TestTable_WorkerTypes(t *testing.T) {
	table := TableFromConfig(config.DefaultRouting())
	types := table.WorkerTypes()
	if types[0] != "general" {
		t.Errorf("expected default worker first, got %v", types)
	}
	if len(types) != 5 {
		t.Errorf("expected 5 worker types, got %v", types)
	}
}
