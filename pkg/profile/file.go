package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FileRepository serves profiles from a JSON object keyed by user id.
type FileRepository struct {
	byUser map[string]Profile
}

func LoadFile(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (*FileRepository, error) {
	var raw map[string]Profile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	repo := &FileRepository{byUser: make(map[string]Profile, len(raw))}
	for key, p := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if p.UserID == "" {
			p.UserID = key
		}
		repo.byUser[key] = p
	}
	return repo, nil
}

func (r *FileRepository) Get(_ context.Context, userID string) (Profile, error) {
	p, ok := r.byUser[strings.TrimSpace(userID)]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}
