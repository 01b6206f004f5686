package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDocumentID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --document: %w", err)
	}
	return id, nil
}
