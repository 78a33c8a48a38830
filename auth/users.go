package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// loadUsersFile reads an optional allowlist of user ids, one JSON array of
// strings. Blank entries are rejected so a stray "" cannot admit tokens with
// an empty subject.
func loadUsersFile(path string) (map[string]bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("auth: users file: %w", err)
	}
	users := make(map[string]bool, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("auth: users file: blank id at index %d", i)
		}
		users[id] = true
	}
	return users, nil
}
