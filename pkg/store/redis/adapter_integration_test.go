package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/query"
	"github.com/nimburion/tabular/pkg/testutil"
)

func startRedis(t *testing.T) string {
	t.Helper()
	testutil.RequireIntegration(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return connStr
}

func newTestAdapter(t *testing.T, url string, cfg Config) *Adapter {
	t.Helper()
	cfg.URL = url
	cfg.OperationTimeout = 5 * time.Second
	a, err := NewAdapter(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// seed writes rows s1..sn into the set "services" with value=i and state=i%2.
func seed(t *testing.T, client *goredis.Client, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := client.SAdd(ctx, "services", id).Err(); err != nil {
			t.Fatalf("SADD: %v", err)
		}
		if err := client.HSet(ctx, id, "value", i, "state", i%2, "name", fmt.Sprintf("srv-%02d", i)).Err(); err != nil {
			t.Fatalf("HSET: %v", err)
		}
	}
}

func TestAdapter_Integration(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	a := newTestAdapter(t, url, Config{ClearStaleCounters: true})
	client := a.Client()
	seed(t, client, 19)
	e := engine.New(a, a, engine.Options{FetchBatchSize: 7})

	exec := func(t *testing.T, cmd string) *engine.Reply {
		t.Helper()
		reply, err := e.Execute(ctx, strings.Fields(cmd))
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", cmd, err)
		}
		return reply
	}

	t.Run("HealthCheck", func(t *testing.T) {
		if err := a.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck() error = %v", err)
		}
	})

	t.Run("GetWindow", func(t *testing.T) {
		reply := exec(t, "TABULAR.GET services 10 5 SORT 1 value NUM")
		if got := strings.Join(reply.Rows, ","); got != "s11,s12,s13,s14,s15" {
			t.Errorf("rows = %s", got)
		}
	})

	t.Run("GetStoreProjection", func(t *testing.T) {
		direct := exec(t, "TABULAR.GET services 0 8 SORT 2 state ALPHA value REVNUM FILTER 1 name MATCH srv-0*")
		exec(t, "TABULAR.GET services 0 8 SORT 2 state ALPHA value REVNUM FILTER 1 name MATCH srv-0* STORE services_sort")

		projected, err := client.Sort(ctx, "services_sort", &goredis.Sort{By: "nosort", Get: []string{"*->value"}}).Result()
		if err != nil {
			t.Fatalf("SORT BY nosort: %v", err)
		}
		want := make([]string, len(direct.Rows))
		for i, id := range direct.Rows {
			want[i] = strings.TrimPrefix(id, "s")
		}
		if !slices.Equal(projected, want) {
			t.Errorf("projection = %v, want %v", projected, want)
		}
	})

	t.Run("GetStoreOverwrites", func(t *testing.T) {
		exec(t, "TABULAR.GET services 0 2 SORT 1 value NUM STORE services_sort")
		got, _ := client.LRange(ctx, "services_sort", 0, -1).Result()
		if strings.Join(got, ",") != "s1,s2" {
			t.Errorf("services_sort = %v", got)
		}
		exec(t, "TABULAR.GET services 500 2 STORE services_sort")
		if n, _ := client.Exists(ctx, "services_sort").Result(); n != 0 {
			t.Error("empty window must leave the destination absent")
		}
	})

	t.Run("ListAndZSetSources", func(t *testing.T) {
		client.RPush(ctx, "queue", "s3", "s1", "s2")
		client.ZAdd(ctx, "ranked", goredis.Z{Score: 2, Member: "s1"}, goredis.Z{Score: 1, Member: "s2"})

		if got := strings.Join(exec(t, "GET queue 0 10").Rows, ","); got != "s3,s1,s2" {
			t.Errorf("list source = %s", got)
		}
		if got := strings.Join(exec(t, "GET ranked 0 10").Rows, ","); got != "s2,s1" {
			t.Errorf("zset source = %s", got)
		}
	})

	t.Run("InFilter", func(t *testing.T) {
		client.SAdd(ctx, "wanted", "3", "5", "42")
		client.ZAdd(ctx, "zwanted", goredis.Z{Score: 0, Member: "7"})

		if got := strings.Join(exec(t, "GET services 0 10 SORT 1 value NUM FILTER 1 value IN wanted").Rows, ","); got != "s3,s5" {
			t.Errorf("IN set = %s", got)
		}
		if got := strings.Join(exec(t, "GET services 0 10 FILTER 1 value IN zwanted").Rows, ","); got != "s7" {
			t.Errorf("IN zset = %s", got)
		}
		if got := exec(t, "GET services 0 10 FILTER 1 value IN nothing").Rows; len(got) != 0 {
			t.Errorf("IN missing set = %v", got)
		}
	})

	t.Run("WrongType", func(t *testing.T) {
		client.Set(ctx, "scalar", "1", 0)
		if _, err := e.Execute(ctx, strings.Fields("GET scalar 0 10")); !query.IsWrongType(err) {
			t.Errorf("source error = %v, want wrong type", err)
		}
		if _, err := e.Execute(ctx, strings.Fields("GET services 0 10 FILTER 1 value IN scalar")); !query.IsWrongType(err) {
			t.Errorf("IN error = %v, want wrong type", err)
		}
	})

	t.Run("NonHashRowIsAbsent", func(t *testing.T) {
		client.SAdd(ctx, "mixed", "s1", "scalar", "ghost")
		reply := exec(t, "GET mixed 0 10 SORT 1 value NUM FILTER 1 value MATCH *")
		if got := strings.Join(reply.Rows, ","); got != "s1" {
			t.Errorf("rows = %s, want s1", got)
		}
	})

	t.Run("CountStore", func(t *testing.T) {
		client.Set(ctx, "stats:count:9", "99", 0)

		reply := exec(t, "TABULAR.COUNT services FILTER 2 state MATCH * name MATCH srv-0[1-4] STORE stats")
		if reply.Kind != engine.ReplyOK {
			t.Fatalf("Kind = %s, want ok", reply.Kind)
		}
		want := map[string]int{
			"stats:count:0": 2, "stats:count:0:srv-02": 1, "stats:count:0:srv-04": 1,
			"stats:count:1": 2, "stats:count:1:srv-01": 1, "stats:count:1:srv-03": 1,
		}
		keys, err := client.Keys(ctx, "stats:count:*").Result()
		if err != nil {
			t.Fatalf("KEYS: %v", err)
		}
		if len(keys) != len(want) {
			t.Errorf("counter keys = %v", keys)
		}
		for k, v := range want {
			got, err := client.Get(ctx, k).Result()
			if err != nil || got != strconv.Itoa(v) {
				t.Errorf("%s = %q (%v), want %d", k, got, err, v)
			}
		}
	})

	t.Run("CountReply", func(t *testing.T) {
		reply := exec(t, "TABULAR.COUNT services FILTER 1 state EQUAL 1")
		if reply.Kind != engine.ReplyGroups || len(reply.Groups) != 1 || reply.Groups[0].Count != 10 {
			t.Errorf("reply = %+v", reply)
		}
		if exec(t, "TABULAR.COUNT services FILTER 1 state EQUAL 5").Kind != engine.ReplyNil {
			t.Error("expected nil reply for no qualifying rows")
		}
	})
}

func TestAdapter_IntegrationZSetIndex(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	a := newTestAdapter(t, url, Config{OrderedListKind: OrderedZSet})
	seed(t, a.Client(), 5)

	if err := a.WriteOrderedList(ctx, "top", []string{"s5", "s4", "s3"}); err != nil {
		t.Fatalf("WriteOrderedList() error = %v", err)
	}
	members, err := a.Client().ZRangeWithScores(ctx, "top", 0, -1).Result()
	if err != nil {
		t.Fatalf("ZRANGE: %v", err)
	}
	for i, m := range members {
		if m.Score != float64(i) {
			t.Errorf("member %v score = %v, want %d", m.Member, m.Score, i)
		}
	}
	if len(members) != 3 || members[0].Member != "s5" {
		t.Errorf("members = %v", members)
	}
}
