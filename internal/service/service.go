// Package service holds the chat directory, the message pipeline, the typing
// relay and the login gate. It keeps no state between calls: everything
// durable goes to the store and every state change is published on the
// chat's channel.
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/pliu/banter/internal/blob"
	"github.com/pliu/banter/internal/broadcast"
	"github.com/pliu/banter/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const maxNameLength = 64

type Options struct {
	// StoreTimeout bounds every store call. Zero means no bound.
	StoreTimeout time.Duration
	// BroadcastTimeout bounds every publish. Zero means no bound.
	BroadcastTimeout time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type Service struct {
	store store.Store
	pub   broadcast.Publisher
	blobs blob.Store
	opts  Options
}

// New wires the service. blobs may be nil, which disables voice messages.
func New(st store.Store, pub broadcast.Publisher, blobs blob.Store, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{store: st, pub: pub, blobs: blobs, opts: opts}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// publish is best effort: the state change it announces is already stored.
// It outlives the request context so a client hanging up right after its
// write does not cancel the notification to everyone else.
func (s *Service) publish(ctx context.Context, chatID, event string, payload any) {
	ctx = context.WithoutCancel(ctx)
	if s.opts.BroadcastTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.BroadcastTimeout)
		defer cancel()
	}
	if err := s.pub.Publish(ctx, broadcast.Channel(chatID), event, payload); err != nil {
		log.Printf("%v: %s on chat %s: %v", ErrBroadcast, event, chatID, err)
	}
}

func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid(field, "required")
	}
	if len(name) > maxNameLength {
		return invalid(field, fmt.Sprintf("longer than %d bytes", maxNameLength))
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return invalid(field, "contains control characters")
		}
	}
	return nil
}
