// Copyright 2026 The AppForge Authors
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

package tenant

import "context"

// Context identifies the tenant partition a call operates on.
// It is passed explicitly through every call boundary; nothing is
// resolved from process-wide state.
type Context struct {
	ID string
}

// NewContext returns a tenant context for id.
func NewContext(id string) (Context, error) {
	if id == "" {
		return Context{}, ErrMissingTenant
	}
	return Context{ID: id}, nil
}

// String returns the tenant id.
func (c Context) String() string {
	return c.ID
}

type contextKey struct{}

// WithContext stores the tenant context in ctx for logging and handlers.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext retrieves the tenant context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok && tc.ID != ""
}
