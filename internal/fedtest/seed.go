package fedtest

import "sync"

func canine(id, name string, years int, collar string, ownerID string, friendIDs ...any) map[string]any {
	dog := map[string]any{
		"__typename": "Canine",
		"id":         id,
		"name":       name,
		"years":      years,
		"collar":     nil,
		"ownerId":    ownerID,
		"friendIds":  friendIDs,
	}
	if collar != "" {
		dog["collar"] = map[string]any{"__typename": "Collar", "name": collar}
	}
	return dog
}

// Pets serves two dogs and a cat. Rex's friends are u2, u3 and u1; Fido's
// friends are u3 and the unknown u9.
func Pets() *Service {
	var mu sync.Mutex
	dogs := []map[string]any{
		canine("d1", "Rex", 3, "red", "u1", "u2", "u3", "u1"),
		canine("d2", "Fido", 5, "", "u2", "u3", "u9"),
	}
	cat := map[string]any{"__typename": "Cat", "id": "c1", "name": "Tom", "lives": 9}
	find := func(id any) map[string]any {
		for _, d := range dogs {
			if d["id"] == id {
				return d
			}
		}
		return nil
	}
	return &Service{Root: map[string]Resolver{
		"dog": func(args map[string]any) any {
			mu.Lock()
			defer mu.Unlock()
			if d := find(args["id"]); d != nil {
				return d
			}
			return nil
		},
		"dogs": func(map[string]any) any {
			return []any{dogs[0], dogs[1]}
		},
		"pets": func(map[string]any) any {
			return []any{dogs[0], cat}
		},
		"catalog": func(map[string]any) any {
			return map[string]any{"__typename": "Catalog", "breeds": []any{"lab", "pug"}}
		},
		"renameDog": func(args map[string]any) any {
			mu.Lock()
			defer mu.Unlock()
			d := find(args["id"])
			if d == nil {
				return nil
			}
			d["name"] = args["name"]
			return d
		},
	}}
}

// Users serves u1, u2 and u3. usersByIds answers in reverse order and leaves out
// unknown ids.
func Users() *Service {
	users := map[string]map[string]any{
		"u1": {"__typename": "User", "id": "u1", "name": "Ann"},
		"u2": {"__typename": "User", "id": "u2", "name": "Bob"},
		"u3": {"__typename": "User", "id": "u3", "name": "Cy"},
	}
	return &Service{Root: map[string]Resolver{
		"user": func(args map[string]any) any {
			id, _ := args["id"].(string)
			if u, ok := users[id]; ok {
				return u
			}
			return nil
		},
		"usersByIds": func(args map[string]any) any {
			ids, _ := args["ids"].([]any)
			out := []any{}
			for i := len(ids) - 1; i >= 0; i-- {
				id, _ := ids[i].(string)
				if u, ok := users[id]; ok {
					out = append(out, u)
				}
			}
			return out
		},
		"catalog": func(map[string]any) any {
			return map[string]any{"__typename": "Catalog", "sellers": []any{users["u1"]}}
		},
	}}
}
