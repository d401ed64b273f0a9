package chunk

import (
	"fmt"
	"strings"
)

// Describe renders c and its children as an indented tree.
func Describe(c Chunk) string {
	var sb strings.Builder
	describe(&sb, c, 0)
	return sb.String()
}

func describe(sb *strings.Builder, c Chunk, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := c.(type) {
	case nil:
		fmt.Fprintf(sb, "%s<nil>\n", indent)
	case *Sequence:
		fmt.Fprintf(sb, "%sSequence#%d(%s%s)\n", indent, v.id, v.length, v.flagString())
		for _, e := range v.elements {
			describe(sb, e, depth+1)
		}
	case *Slice:
		fmt.Fprintf(sb, "%sSlice#%d(%s at %s%s)\n", indent, v.id, v.length, v.offset, v.flagString())
		describe(sb, v.base, depth+1)
	case *FieldsChunk:
		fmt.Fprintf(sb, "%s%s\n", indent, v)
		if s, ok := v.fields.(fmt.Stringer); ok {
			fmt.Fprintf(sb, "%s  %s\n", indent, s)
		}
	default:
		fmt.Fprintf(sb, "%s%s\n", indent, v)
	}
}
