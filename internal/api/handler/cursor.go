package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// ErrInvalidCursor is returned for a next_cursor value the API did not issue
var ErrInvalidCursor = errors.New("invalid cursor format")

// cursorToken is the opaque next_cursor payload
type cursorToken struct {
	CreatedAt int64  `json:"t"`
	ID        string `json:"id"`
}

// DecodeJobCursor parses a next_cursor value. An empty value means the first page.
func DecodeJobCursor(raw string) (*domain.JobCursor, error) {
	if raw == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var tok cursorToken
	if err := json.Unmarshal(data, &tok); err != nil || tok.ID == "" || tok.CreatedAt <= 0 {
		return nil, ErrInvalidCursor
	}

	return &domain.JobCursor{
		CreatedAt: time.Unix(0, tok.CreatedAt).UTC(),
		ID:        tok.ID,
	}, nil
}

// EncodeJobCursor renders the position after the last job of a page
func EncodeJobCursor(cursor *domain.JobCursor) string {
	data, _ := json.Marshal(cursorToken{CreatedAt: cursor.CreatedAt.UnixNano(), ID: cursor.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}
