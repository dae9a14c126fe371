// Copyright 2026 The Tenantgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/authority"
	"github.com/tenantgate/tenantgate/internal/observability/logger"
	"github.com/tenantgate/tenantgate/internal/observability/metrics"
	"github.com/tenantgate/tenantgate/internal/session"
)

// Route is one exposed operation: the HTTP binding, the authority
// declaration and the handler. Every route MUST declare a requirement;
// the index build refuses to start the service otherwise.
type Route struct {
	Owner       string
	Name        string
	Method      string
	Pattern     string
	Requirement *authority.Requirement

	// Args extracts the operation arguments the declared target parsers
	// read from. Nil when the operation has no target parameter.
	Args func(r *http.Request) []any

	Handler http.HandlerFunc
}

// Registry collects routes at startup and doubles as the operation
// catalog the authority index is built from.
type Registry struct {
	routes []Route
}

// NewRegistry creates an empty route registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a route.
func (reg *Registry) Add(routes ...Route) {
	reg.routes = append(reg.routes, routes...)
}

// Operations enumerates every registered route as an indexable operation.
// Routes sharing (owner, name) collapse into one operation carrying all
// their patterns and methods.
func (reg *Registry) Operations() []authority.OperationInfo {
	byKey := make(map[string]*authority.OperationInfo)
	var order []string
	for _, rt := range reg.routes {
		key := rt.Owner + "::" + rt.Name
		info, ok := byKey[key]
		if !ok {
			info = &authority.OperationInfo{
				Owner:       rt.Owner,
				Name:        rt.Name,
				Requirement: rt.Requirement,
			}
			byKey[key] = info
			order = append(order, key)
		}
		info.Patterns = append(info.Patterns, rt.Pattern)
		info.Methods = append(info.Methods, rt.Method)
	}
	ops := make([]authority.OperationInfo, 0, len(order))
	for _, key := range order {
		ops = append(ops, *byKey[key])
	}
	return ops
}

// Mount wires every registered route onto the router, each behind the
// guard. The guard decision maps onto the transport as 401 for a missing
// session, 403 for a denial and 500 for a scope configuration defect.
// meter may be nil when metrics are disabled.
func (reg *Registry) Mount(r chi.Router, guard *authority.Guard, auditLogger audit.Logger, meter *metrics.Meter) {
	for _, rt := range reg.routes {
		rt := rt
		r.Method(rt.Method, rt.Pattern, guarded(guard, auditLogger, meter, rt))
	}
}

func guarded(guard *authority.Guard, auditLogger audit.Logger, meter *metrics.Meter, rt Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ident := session.FromContext(ctx)

		var args []any
		if rt.Args != nil {
			args = rt.Args(r)
		}

		start := time.Now()
		err := guard.Authorize(ctx, ident, rt.Owner, rt.Name, args)
		if meter != nil {
			meter.RecordDecision(ctx, rt.Pattern, err == nil)
			meter.RecordCheckDuration(ctx, float64(time.Since(start).Microseconds())/1000.0)
		}
		if err != nil {
			switch {
			case errors.Is(err, authority.ErrMissingUser):
				respondError(w, http.StatusUnauthorized, "authentication required")
			case errors.Is(err, authority.ErrNoAuthority):
				auditLogger.Log(ctx, audit.Event{
					Type:     audit.TypeAccessDenied,
					TenantID: ident.TenantCode(),
					Resource: rt.Pattern,
				})
				respondError(w, http.StatusForbidden, "access denied")
			case errors.Is(err, authority.ErrScopeNotFound):
				slog.ErrorContext(ctx, "authority scope misconfigured",
					logger.Path(rt.Pattern), logger.Error(err))
				respondError(w, http.StatusInternalServerError, "authorization misconfigured")
			default:
				slog.ErrorContext(ctx, "authorization check failed",
					logger.Path(rt.Pattern), logger.Error(err))
				respondError(w, http.StatusInternalServerError, "authorization check failed")
			}
			return
		}

		rt.Handler(w, r)
	}
}
