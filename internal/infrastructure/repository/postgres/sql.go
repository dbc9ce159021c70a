package postgres

import (
	"database/sql"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func marshalPayload(payload job.Payload) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload")
	}
	return string(raw), nil
}

func unmarshalPayload(raw string) (job.Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return job.Payload{}, nil
	}
	var payload job.Payload
	if err := sonic.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshal payload")
	}
	return payload, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
