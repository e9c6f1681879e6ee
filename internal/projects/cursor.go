package projects

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// DecodeCursor parses a cursor produced by EncodeCursor. An empty string is no cursor.
func DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &Cursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        parts[1],
	}, nil
}

// EncodeCursor serializes the position after r.
func EncodeCursor(r Record) string {
	cs := fmt.Sprintf("%d|%s", r.CreatedAt.UnixNano(), r.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
