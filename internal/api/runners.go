package api

import (
	"context"

	"github.com/sahay/backend/internal/analytics"
	"github.com/sahay/backend/internal/anchor"
	"github.com/sahay/backend/internal/complaints"
	"github.com/sahay/backend/internal/database"
	"github.com/sahay/backend/internal/outbox"
	"github.com/sahay/backend/internal/syncgw"
	"github.com/sahay/backend/internal/tele"
	"github.com/sahay/backend/internal/triage"
)

// The domain packages each declare the narrow Store and Runner interfaces
// they depend on; *database.Store satisfies every Store. These adapters bind
// WithTx to each package's Runner so a domain write, its audit append and its
// outbox enqueue share one transaction.

type syncRunner struct{ store *database.Store }

func (a syncRunner) InTx(ctx context.Context, fn func(syncgw.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type triageRunner struct{ store *database.Store }

func (a triageRunner) InTx(ctx context.Context, fn func(triage.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type teleRunner struct{ store *database.Store }

func (a teleRunner) InTx(ctx context.Context, fn func(tele.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type complaintsRunner struct{ store *database.Store }

func (a complaintsRunner) InTx(ctx context.Context, fn func(complaints.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type anchorRunner struct{ store *database.Store }

func (a anchorRunner) InTx(ctx context.Context, fn func(anchor.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type analyticsRunner struct{ store *database.Store }

func (a analyticsRunner) InTx(ctx context.Context, fn func(analytics.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}

type outboxRunner struct{ store *database.Store }

func (a outboxRunner) InTx(ctx context.Context, fn func(outbox.Store) error) error {
	return a.store.WithTx(ctx, func(tx *database.Store) error { return fn(tx) })
}
