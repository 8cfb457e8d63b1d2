package providers

import (
	"fmt"

	jmes "github.com/jmespath/go-jmespath"

	"bookkeepingcpa/pkg/problems"
)

func search(expr string, doc any) (any, error) {
	if expr == "" || doc == nil {
		return nil, nil
	}
	v, err := jmes.Search(expr, doc)
	if err != nil {
		return nil, problems.Wrap(problems.Internal, err, "bad extraction expression "+expr)
	}
	return v, nil
}

func searchString(expr string, doc any) string {
	v, _ := search(expr, doc)
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return fmt.Sprint(x)
	}
}

// page shapes a list response as {items, next_cursor}. Operations without an
// Items expression return the provider document as-is. The cursor is opaque
// and passed through exactly as the provider sent it.
func page(op Operation, doc any, cursor any) (any, error) {
	if op.Items == "" {
		return doc, nil
	}
	items, err := search(op.Items, doc)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []any{}
	}
	out := map[string]any{"items": items}
	if s, ok := cursor.(string); ok && s != "" {
		out["next_cursor"] = s
	} else if cursor != nil && !ok {
		out["next_cursor"] = cursor
	}
	return out, nil
}
