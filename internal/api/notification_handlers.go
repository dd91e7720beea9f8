// Package api defines the HTTP handlers for the notification API: event
// ingestion, listing and marking notifications read, and presence lookups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tinywideclouds/go-realtime-service/internal/auth"
	"github.com/tinywideclouds/go-realtime-service/internal/notify"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	systemSender       = "System"
	backgroundDeadline = 15 * time.Second
)

// EventNotifier stores and delivers a single domain event.
type EventNotifier interface {
	Notify(ctx context.Context, event *realtime.DomainEvent) (*realtime.Notification, bool, error)
}

// LocalPresence reports connections held by this instance.
type LocalPresence interface {
	IsConnected(identity string) bool
}

// API holds the dependencies for the HTTP handlers.
type API struct {
	// producer is nil when events are handled in-process.
	producer realtime.EventProducer
	notifier EventNotifier
	store    realtime.NotificationStore
	local    LocalPresence
	presence realtime.PresenceCache
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewAPI creates the API handlers. presence may be nil.
func NewAPI(
	producer realtime.EventProducer,
	notifier EventNotifier,
	store realtime.NotificationStore,
	local LocalPresence,
	presence realtime.PresenceCache,
	logger *slog.Logger,
) *API {
	return &API{
		producer: producer,
		notifier: notifier,
		store:    store,
		local:    local,
		presence: presence,
		logger:   logger,
	}
}

// Wait blocks until in-process event handling started by EventHandler is done.
func (a *API) Wait() {
	a.wg.Wait()
}

// EventHandler accepts a domain event. It is published to the ingestion
// bus when one is configured, otherwise notified in the background.
func (a *API) EventHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.logger.Warn("EventHandler: No principal in context")
		WriteJSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	log := a.logger.With("user", principal.UserID)

	var event realtime.DomainEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Warn("Failed to decode domain event", "err", err)
		WriteJSONError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if event.SenderID == "" {
		event.SenderID = principal.UserID
	}
	if event.SenderName == "" {
		event.SenderName = principal.Username
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := notify.Validate(&event); err != nil {
		log.Warn("Rejected domain event", "err", err)
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	log = log.With("recipient_id", event.RecipientID, "type", event.Type)

	if a.producer != nil {
		if err := a.producer.Publish(r.Context(), &event); err != nil {
			log.Error("Failed to publish domain event", "err", err)
			WriteJSONError(w, http.StatusInternalServerError, "failed to accept event")
			return
		}
		log.Debug("Domain event published for ingestion")
		WriteJSON(w, http.StatusAccepted, map[string]any{"success": true, "id": event.ID})
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundDeadline)
		defer cancel()
		if _, _, err := a.notifier.Notify(ctx, &event); err != nil {
			log.Error("Failed to handle domain event in background", "err", err)
		}
	}()
	WriteJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

type notificationView struct {
	*realtime.Notification
	SenderName string `json:"sender_name"`
}

// ListHandler returns the caller's notifications, newest first.
func (a *API) ListHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.logger.Warn("ListHandler: No principal in context")
		WriteJSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		val, err := strconv.Atoi(limitStr)
		if err != nil {
			a.logger.Warn("Invalid 'limit' parameter", "limit", limitStr)
			WriteJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
			return
		}
		if val > maxListLimit {
			limit = maxListLimit
		} else if val > 0 {
			limit = val
		}
	}
	log := a.logger.With("user", principal.UserID, "limit", limit)

	records, err := a.store.ListForRecipient(r.Context(), principal.UserID, limit)
	if err != nil {
		log.Error("Failed to list notifications", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to retrieve notifications")
		return
	}

	views := make([]notificationView, 0, len(records))
	for _, n := range records {
		sender := n.SenderName
		if sender == "" {
			sender = systemSender
		}
		views = append(views, notificationView{Notification: n, SenderName: sender})
	}
	log.Debug("Listed notifications", "count", len(views))
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": views})
}

// MarkReadHandler marks the listed notifications read for the caller.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.logger.Warn("MarkReadHandler: No principal in context")
		WriteJSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var body struct {
		NotificationIDs []notificationID `json:"notification_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.logger.Warn("Failed to decode mark-read body", "err", err, "user", principal.UserID)
		WriteJSONError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if len(body.NotificationIDs) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "No notification IDs provided")
		return
	}

	ids := make([]string, 0, len(body.NotificationIDs))
	for _, id := range body.NotificationIDs {
		ids = append(ids, string(id))
	}
	log := a.logger.With("user", principal.UserID, "count", len(ids))

	updated, err := a.store.MarkRead(r.Context(), principal.UserID, ids)
	if err != nil {
		log.Error("Failed to mark notifications read", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	log.Info("Marked notifications read", "updated", updated)
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
		"message": fmt.Sprintf("Marked %d notifications as read", updated),
	})
}

// PresenceHandler reports whether an identity is connected to this
// instance and, when a presence cache is configured, where it is connected.
func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if identity == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing identity")
		return
	}

	resp := map[string]any{
		"identity":       identity,
		"connected_here": a.local.IsConnected(identity),
	}
	if a.presence != nil {
		info, err := a.presence.Fetch(r.Context(), identity)
		switch {
		case err == nil:
			resp["presence"] = info
		case errors.Is(err, realtime.ErrNotPresent):
			resp["presence"] = nil
		default:
			a.logger.Error("Failed to fetch presence", "identity", identity, "err", err)
			WriteJSONError(w, http.StatusInternalServerError, "failed to fetch presence")
			return
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// notificationID accepts IDs sent as JSON strings or numbers.
type notificationID string

func (id *notificationID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = notificationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = notificationID(n.String())
	return nil
}
