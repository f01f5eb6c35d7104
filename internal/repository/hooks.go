// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"time"

	"github.com/loadtrace/backend/pkg/log"
)

type hookTimingKey struct{}

// Hooks implements sqlhooks.Hooks so every query run through the
// "sqlite3WithHooks"/"pgxWithHooks" drivers is logged with its elapsed time.
type Hooks struct{}

// Before stashes the start time in the context and logs the query at debug
// level. It runs before the driver dispatches the query.
func (h *Hooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	log.Debugf("repository: query %q args=%v", query, args)
	return context.WithValue(ctx, hookTimingKey{}, time.Now()), nil
}

// After logs how long the query took, using the start time Before attached
// to the context.
func (h *Hooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if start, ok := ctx.Value(hookTimingKey{}).(time.Time); ok {
		log.Debugf("repository: query finished in %s", time.Since(start))
	}
	return ctx, nil
}
