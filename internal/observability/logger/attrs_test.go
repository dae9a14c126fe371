package logger

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrs(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		want slog.Value
	}{
		{AuthKey("/api/v1/tenants"), "auth_key", slog.StringValue("/api/v1/tenants")},
		{ScopeType("Subsystem"), "scope_type", slog.StringValue("Subsystem")},
		{TargetID(42), "target_id", slog.Int64Value(42)},
		{DBName("main"), "db_name", slog.StringValue("main")},
		{Tenant("acme"), "tenant", slog.StringValue("acme")},
		{UserID(7), "user_id", slog.Int64Value(7)},
		{Error(errors.New("boom")), "error", slog.StringValue("boom")},
		{Error(nil), "error", slog.StringValue("")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
		assert.True(t, tt.attr.Value.Equal(tt.want), tt.key)
	}
}
