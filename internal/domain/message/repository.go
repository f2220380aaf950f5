package message

import (
	"context"
	"time"
)

type BlurbRepository interface {
	GetBlurb(ctx context.Context, form, slug string) (*Blurb, error)
	// CreateBlurb inserts b, or loads the existing row when (form, slug) is already taken.
	CreateBlurb(ctx context.Context, b *Blurb) error
}

type CCRepository interface {
	GetCC(ctx context.Context, form, slug string) (*CC, error)
	ListCCsByForm(ctx context.Context, form string) ([]*CC, error)
}

type HelpRepository interface {
	// ListHelpByPriority returns every help message, highest priority first, ties in store order.
	ListHelpByPriority(ctx context.Context) ([]*Help, error)
}

type ReportRepository interface {
	ListReports(ctx context.Context) ([]*ScheduledReport, error)
	ListActiveReports(ctx context.Context) ([]*ScheduledReport, error)
	GetReportBySlug(ctx context.Context, slug string) (*ScheduledReport, error)
	MarkReportDispatched(ctx context.Context, id int64, at time.Time) error
}

type BroadcastRepository interface {
	GetBroadcast(ctx context.Context, id int64) (*SeasonEndBroadcast, error)
	// RecordDeliveries appends message associations for one batch. Existing
	// associations are left untouched.
	RecordDeliveries(ctx context.Context, broadcastID, wetmillID, seasonID int64, messageIDs []string) error
	ListDeliveredMessageIDs(ctx context.Context, broadcastID, wetmillID, seasonID int64) ([]string, error)
}

type ScheduledBroadcastRepository interface {
	CreateBroadcast(ctx context.Context, b *Broadcast) error
	GetScheduledBroadcast(ctx context.Context, id int64) (*Broadcast, error)
	// ListPendingBroadcasts returns unsent broadcasts with SendOn at or before now, oldest first.
	ListPendingBroadcasts(ctx context.Context, now time.Time) ([]*Broadcast, error)
	// MarkBroadcastSent sets Sent. False when it was already set.
	MarkBroadcastSent(ctx context.Context, id int64) (bool, error)
	RecordBroadcastMessages(ctx context.Context, broadcastID int64, messageIDs []string) error
	ListBroadcastMessageIDs(ctx context.Context, broadcastID int64) ([]string, error)
}
