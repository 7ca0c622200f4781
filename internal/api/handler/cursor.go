package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/api/storage"
	"github.com/google/uuid"
)

func DecodeGroupCursor(cursorStr string) (*storage.GroupCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	groupID, err := uuid.Parse(decodedParts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid group id in cursor: %w", err)
	}

	return &storage.GroupCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		GroupID:   groupID.String(),
	}, nil
}

func EncodeGroupCursor(cursor *storage.GroupCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.GroupID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
