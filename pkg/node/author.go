package node

// Author role bits kept in the author map of every document.
const (
	// AuthorInsystem marks a user that exists in this volume.
	AuthorInsystem = 1
	// AuthorOriginal marks the document creator.
	AuthorOriginal = 2
)

// addAuthor folds a user into an author map. The order field keeps a
// stable UI listing; new entries get max(order)+1.
func addAuthor(authors map[string]any, guid string, role int, name string) map[string]any {
	if authors == nil {
		authors = make(map[string]any)
	}
	entry, _ := authors[guid].(map[string]any)
	if entry == nil {
		order := int64(0)
		for _, item := range authors {
			if m, ok := item.(map[string]any); ok {
				if o := toInt64(m["order"]); o >= order {
					order = o + 1
				}
			}
		}
		entry = map[string]any{"order": order}
		authors[guid] = entry
	}
	entry["role"] = toInt64(entry["role"]) | int64(role)
	if name != "" {
		entry["name"] = name
	}
	return authors
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
