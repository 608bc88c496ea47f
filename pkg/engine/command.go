package engine

import (
	"context"
	"strings"

	"github.com/nimburion/tabular/pkg/query"
)

// Command names accepted by Execute, compared case-insensitively.
const (
	CommandGet   = "TABULAR.GET"
	CommandCount = "TABULAR.COUNT"
)

// ReplyKind tells which field of a Reply is meaningful.
type ReplyKind int

const (
	// ReplyRows carries an ordered list of row ids, possibly empty.
	ReplyRows ReplyKind = iota
	// ReplyOK acknowledges a STORE.
	ReplyOK
	// ReplyGroups carries a COUNT breakdown.
	ReplyGroups
	// ReplyNil reports a COUNT with no qualifying rows.
	ReplyNil
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyRows:
		return "rows"
	case ReplyOK:
		return "ok"
	case ReplyGroups:
		return "groups"
	default:
		return "nil"
	}
}

// MarshalText renders the kind by name in JSON and YAML replies.
func (k ReplyKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Reply is the command-level answer to a query.
type Reply struct {
	Kind   ReplyKind   `json:"kind" yaml:"kind"`
	Rows   []string    `json:"rows,omitempty" yaml:"rows,omitempty"`
	Groups []GroupNode `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ParseCommand parses a full argument vector whose first element is the command name.
func ParseCommand(argv []string) (*query.Query, error) {
	if len(argv) == 0 {
		return nil, query.ArgumentError("empty command")
	}
	switch strings.ToUpper(argv[0]) {
	case CommandGet, "GET":
		return query.ParseGet(argv[1:])
	case CommandCount, "COUNT":
		return query.ParseCount(argv[1:])
	default:
		return nil, query.ArgumentError("unknown command %q", argv[0])
	}
}

// Execute parses argv and runs it.
func (e *Engine) Execute(ctx context.Context, argv []string) (*Reply, error) {
	q, err := ParseCommand(argv)
	if err != nil {
		e.metrics.ObserveQuery(commandMode(argv), statusOf(err), 0)
		return nil, err
	}
	return e.Run(ctx, q)
}

// Run executes an already parsed query and shapes its reply.
func (e *Engine) Run(ctx context.Context, q *query.Query) (*Reply, error) {
	if q.Mode == query.ModeCount {
		res, err := e.Count(ctx, q)
		if err != nil {
			return nil, err
		}
		switch {
		case res.NoResult:
			return &Reply{Kind: ReplyNil}, nil
		case res.Stored:
			return &Reply{Kind: ReplyOK}, nil
		default:
			return &Reply{Kind: ReplyGroups, Groups: res.Groups}, nil
		}
	}

	res, err := e.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	if res.Stored {
		return &Reply{Kind: ReplyOK}, nil
	}
	rows := res.Rows
	if rows == nil {
		rows = []string{}
	}
	return &Reply{Kind: ReplyRows, Rows: rows}, nil
}

func commandMode(argv []string) string {
	if len(argv) > 0 && strings.HasSuffix(strings.ToUpper(argv[0]), "COUNT") {
		return query.ModeCount.String()
	}
	return query.ModeGet.String()
}
