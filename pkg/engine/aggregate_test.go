package engine

import (
	"testing"
)

func TestAggregate_TwoLevels(t *testing.T) {
	cols := newColumnIndex([]string{"host", "state"})
	rows := []row{
		{id: "s1", values: []FieldValue{present("web1"), present("0")}},
		{id: "s2", values: []FieldValue{present("web1"), present("2")}},
		{id: "s3", values: []FieldValue{present("db1"), present("0")}},
		{id: "s4", values: []FieldValue{present("web1"), present("0")}},
	}

	groups := aggregate(rows, []string{"host", "state"}, cols)
	if len(groups) != 2 {
		t.Fatalf("expected 2 level-1 groups, got %d", len(groups))
	}
	db, web := groups[0], groups[1]
	if db.Column != "host" || db.Value != "db1" || db.Count != 1 {
		t.Errorf("groups[0] = %+v", db)
	}
	if web.Value != "web1" || web.Count != 3 || len(web.Children) != 2 {
		t.Fatalf("groups[1] = %+v", web)
	}
	if web.Children[0].Column != "state" || web.Children[0].Value != "0" || web.Children[0].Count != 2 {
		t.Errorf("web1/0 = %+v", web.Children[0])
	}
	if web.Children[0].Children != nil {
		t.Error("last level must have nil children")
	}
}

func TestAggregate_Empty(t *testing.T) {
	if got := aggregate(nil, []string{"a"}, newColumnIndex([]string{"a"})); got != nil {
		t.Errorf("aggregate(nil) = %v, want nil", got)
	}
}

func TestAggregate_DuplicateColumn(t *testing.T) {
	cols := newColumnIndex([]string{"v"})
	rows := []row{
		{id: "a", values: []FieldValue{present("1")}},
		{id: "b", values: []FieldValue{present("1")}},
	}
	groups := aggregate(rows, []string{"v", "v"}, cols)
	if len(groups) != 1 || groups[0].Count != 2 || len(groups[0].Children) != 1 || groups[0].Children[0].Count != 2 {
		t.Errorf("groups = %+v", groups)
	}
}

func TestFlattenCounters(t *testing.T) {
	groups := []GroupNode{
		{Column: "host", Value: "db1", Count: 1, Children: []GroupNode{{Column: "state", Value: "0", Count: 1}}},
		{Column: "host", Value: "web1", Count: 3, Children: []GroupNode{
			{Column: "state", Value: "0", Count: 2},
			{Column: "state", Value: "2", Count: 1},
		}},
	}
	got := flattenCounters("stats", groups)
	want := []Counter{
		{Key: "stats:count:db1", Value: 1},
		{Key: "stats:count:db1:0", Value: 1},
		{Key: "stats:count:web1", Value: 3},
		{Key: "stats:count:web1:0", Value: 2},
		{Key: "stats:count:web1:2", Value: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("flattenCounters() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("counter[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCounterKey(t *testing.T) {
	if got := CounterKey("d", []string{"a", "b"}); got != "d:count:a:b" {
		t.Errorf("CounterKey() = %q", got)
	}
	if got := CounterPrefix("d"); got != "d:count:" {
		t.Errorf("CounterPrefix() = %q", got)
	}
}
