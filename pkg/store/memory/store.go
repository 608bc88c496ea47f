// Package memory is an in-process keyspace with the set, list, sorted set, hash and string
// shapes the query engine reads and writes. It backs tests and the CLI fixture mode.
package memory

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/query"
)

// Kind is the shape of a stored value.
type Kind string

const (
	KindNone   Kind = "none"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindSet    Kind = "set"
	KindZSet   Kind = "zset"
	KindHash   Kind = "hash"
)

// OrderedListKind selects how WriteOrderedList stores its ids.
type OrderedListKind string

const (
	OrderedList OrderedListKind = "list"
	OrderedZSet OrderedListKind = "zset"
)

type zmember struct {
	member string
	score  float64
}

type value struct {
	kind Kind
	str  string
	list []string
	// set keeps insertion order; index answers membership.
	set   []string
	index map[string]struct{}
	zset  []zmember
	hash  map[string]string
}

// Options configures a Store.
type Options struct {
	OrderedListKind    OrderedListKind
	ClearStaleCounters bool
}

// Store is a goroutine-safe keyspace.
type Store struct {
	mu   sync.RWMutex
	keys map[string]*value
	opts Options
}

// New returns an empty Store.
func New(opts Options) *Store {
	if opts.OrderedListKind == "" {
		opts.OrderedListKind = OrderedList
	}
	return &Store{keys: make(map[string]*value), opts: opts}
}

var (
	_ engine.RecordStore = (*Store)(nil)
	_ engine.ResultStore = (*Store)(nil)
)

func (s *Store) typed(key string, kind Kind) *value {
	v, ok := s.keys[key]
	if !ok || v.kind != kind {
		v = &value{kind: kind}
		s.keys[key] = v
	}
	return v
}

// SAdd adds members to the set at key, replacing any value of another type.
func (s *Store) SAdd(key string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.typed(key, KindSet)
	if v.index == nil {
		v.index = make(map[string]struct{})
	}
	for _, m := range members {
		if _, ok := v.index[m]; ok {
			continue
		}
		v.index[m] = struct{}{}
		v.set = append(v.set, m)
	}
}

// RPush appends values to the list at key.
func (s *Store) RPush(key string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.typed(key, KindList)
	v.list = append(v.list, values...)
}

// ZAdd sets the score of member in the sorted set at key.
func (s *Store) ZAdd(key string, score float64, member string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.typed(key, KindZSet)
	for i := range v.zset {
		if v.zset[i].member == member {
			v.zset[i].score = score
			sortZSet(v.zset)
			return
		}
	}
	v.zset = append(v.zset, zmember{member: member, score: score})
	sortZSet(v.zset)
}

func sortZSet(z []zmember) {
	sort.SliceStable(z, func(i, j int) bool {
		if z[i].score != z[j].score {
			return z[i].score < z[j].score
		}
		return z[i].member < z[j].member
	})
}

// HSet sets field/value pairs on the hash at key.
func (s *Store) HSet(key string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.typed(key, KindHash)
	if v.hash == nil {
		v.hash = make(map[string]string, len(fields))
	}
	for f, val := range fields {
		v.hash[f] = val
	}
}

// Set stores a string value.
func (s *Store) Set(key, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = &value{kind: KindString, str: val}
}

// Del removes keys.
func (s *Store) Del(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.keys, k)
	}
}

// Type returns the shape stored at key.
func (s *Store) Type(key string) Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.keys[key]; ok {
		return v.kind
	}
	return KindNone
}

// Get returns the string at key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[key]
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// LRange returns a copy of the whole list at key.
func (s *Store) LRange(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[key]
	if !ok || v.kind != KindList {
		return nil
	}
	return slices.Clone(v.list)
}

// ZRange returns the members of the sorted set at key by ascending score.
func (s *Store) ZRange(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[key]
	if !ok || v.kind != KindZSet {
		return nil
	}
	out := make([]string, len(v.zset))
	for i, m := range v.zset {
		out[i] = m.member
	}
	return out
}

// Keys returns every key with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Members implements engine.RecordStore.
func (s *Store) Members(_ context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[collection]
	if !ok {
		return nil, nil
	}
	switch v.kind {
	case KindSet:
		return slices.Clone(v.set), nil
	case KindList:
		return slices.Clone(v.list), nil
	case KindZSet:
		out := make([]string, len(v.zset))
		for i, m := range v.zset {
			out[i] = m.member
		}
		return out, nil
	default:
		return nil, query.WrongTypeError(collection)
	}
}

// Fields implements engine.RecordStore. Ids that are not hashes read as absent records.
func (s *Store) Fields(_ context.Context, ids []string, columns []string) ([][]engine.FieldValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]engine.FieldValue, len(ids))
	for i, id := range ids {
		vals := make([]engine.FieldValue, len(columns))
		if v, ok := s.keys[id]; ok && v.kind == KindHash {
			for j, c := range columns {
				if f, ok := v.hash[c]; ok {
					vals[j] = engine.FieldValue{Value: f, Present: true}
				}
			}
		}
		out[i] = vals
	}
	return out, nil
}

// SetContains implements engine.RecordStore for set and sorted set keys.
func (s *Store) SetContains(_ context.Context, set string, values []string) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, len(values))
	v, ok := s.keys[set]
	if !ok {
		return out, nil
	}
	switch v.kind {
	case KindSet:
		for i, val := range values {
			_, out[i] = v.index[val]
		}
	case KindZSet:
		members := make(map[string]struct{}, len(v.zset))
		for _, m := range v.zset {
			members[m.member] = struct{}{}
		}
		for i, val := range values {
			_, out[i] = members[val]
		}
	default:
		return nil, query.WrongTypeError(set)
	}
	return out, nil
}

// WriteOrderedList implements engine.ResultStore. An empty id list leaves key absent.
func (s *Store) WriteOrderedList(_ context.Context, key string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	if len(ids) == 0 {
		return nil
	}
	if s.opts.OrderedListKind == OrderedZSet {
		v := &value{kind: KindZSet}
		for i, id := range ids {
			v.zset = append(v.zset, zmember{member: id, score: float64(i)})
		}
		// duplicate ids keep their last position, as ZADD would
		v.zset = dedupeZSet(v.zset)
		sortZSet(v.zset)
		s.keys[key] = v
		return nil
	}
	s.keys[key] = &value{kind: KindList, list: slices.Clone(ids)}
	return nil
}

func dedupeZSet(z []zmember) []zmember {
	last := make(map[string]int, len(z))
	for i, m := range z {
		last[m.member] = i
	}
	out := z[:0:0]
	for i, m := range z {
		if last[m.member] == i {
			out = append(out, m)
		}
	}
	return out
}

// WriteCounters implements engine.ResultStore.
func (s *Store) WriteCounters(_ context.Context, dest string, counters []engine.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.ClearStaleCounters {
		prefix := engine.CounterPrefix(dest)
		for k := range s.keys {
			if strings.HasPrefix(k, prefix) {
				delete(s.keys, k)
			}
		}
	}
	for _, c := range counters {
		s.keys[c.Key] = &value{kind: KindString, str: strconv.FormatInt(c.Value, 10)}
	}
	return nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
