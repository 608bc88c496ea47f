package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nimburion/tabular/pkg/engine"
)

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

// writeReply prints a reply in the chosen format. Text output follows redis-cli.
func writeReply(w io.Writer, format string, reply *engine.Reply) error {
	if format != OutputText {
		return writeStructured(w, format, reply)
	}

	var sb strings.Builder
	switch reply.Kind {
	case engine.ReplyOK:
		sb.WriteString("OK\n")
	case engine.ReplyNil:
		sb.WriteString("(nil)\n")
	case engine.ReplyRows:
		if len(reply.Rows) == 0 {
			sb.WriteString("(empty array)\n")
		}
		width := len(fmt.Sprint(len(reply.Rows)))
		for i, id := range reply.Rows {
			fmt.Fprintf(&sb, "%*d) %q\n", width, i+1, id)
		}
	case engine.ReplyGroups:
		writeGroups(&sb, reply.Groups, "")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// writeGroups prints one numbered line per bucket, children indented under their parent.
func writeGroups(sb *strings.Builder, groups []engine.GroupNode, indent string) {
	for i, g := range groups {
		label := fmt.Sprintf("%d) ", i+1)
		fmt.Fprintf(sb, "%s%s%s=%q (integer) %d\n", indent, label, g.Column, g.Value, g.Count)
		writeGroups(sb, g.Children, indent+strings.Repeat(" ", len(label)))
	}
}
