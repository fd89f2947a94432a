package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
)

// backoffSchedule gives the wait before attempt n+1, indexed by the
// number of attempts already made.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
}

// Scheduler owns outbound delivery: it fans a published activity out
// into one pending record per destination inbox and drives a worker
// pool over the due records. Workers only communicate through the
// database; the CAS claim makes each record single-writer.
type Scheduler struct {
	DB     *db.DB
	Conf   *util.AppConfig
	Keys   KeyResolver
	Client *http.Client

	pollInterval time.Duration
	wg           sync.WaitGroup
}

func NewScheduler(database *db.DB, conf *util.AppConfig, keys KeyResolver) *Scheduler {
	return &Scheduler{
		DB:           database,
		Conf:         conf,
		Keys:         keys,
		Client:       &http.Client{},
		pollInterval: 2 * time.Second,
	}
}

// Publish persists the activity and creates exactly one pending
// delivery record per inbox, due immediately. An empty inbox list is a
// valid no-op publish.
func (s *Scheduler) Publish(activity *domain.Activity, inboxes []string) error {
	if err := s.DB.CreateActivity(activity); err != nil {
		return fmt.Errorf("failed to persist activity: %w", err)
	}
	return s.Enqueue(activity, inboxes)
}

// Enqueue creates delivery records for an already-persisted activity.
func (s *Scheduler) Enqueue(activity *domain.Activity, inboxes []string) error {
	if len(inboxes) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]domain.DeliveryRecord, 0, len(inboxes))
	for _, inbox := range inboxes {
		records = append(records, domain.DeliveryRecord{
			Id:            uuid.New(),
			ActivityId:    activity.Id,
			ActivityURI:   activity.URI,
			ActorURI:      activity.ActorURI,
			InboxURI:      inbox,
			State:         domain.DeliveryPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}
	if err := s.DB.CreateDeliveryRecords(records); err != nil {
		return fmt.Errorf("failed to enqueue deliveries: %w", err)
	}
	log.Printf("DeliveryWorker: Queued %s to %d inboxes", activity.URI, len(inboxes))
	return nil
}

// Cancel marks a pending record permanently failed with reason
// "cancelled". Returns false when the record was already in flight or
// terminal.
func (s *Scheduler) Cancel(recordId uuid.UUID) (bool, error) {
	err, cancelled := s.DB.CancelDelivery(recordId)
	return cancelled, err
}

// CancelActivity cancels every still-pending record of an activity.
func (s *Scheduler) CancelActivity(activityId uuid.UUID) (int, error) {
	err, n := s.DB.CancelDeliveriesByActivity(activityId)
	return n, err
}

// Start launches the worker pool. Workers stop when ctx is cancelled;
// Wait blocks until they have drained.
func (s *Scheduler) Start(ctx context.Context) {
	workers := s.Conf.Conf.DeliveryWorkers
	if workers <= 0 {
		workers = 4
	}
	log.Printf("DeliveryWorker: Starting %d delivery workers", workers)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain everything currently due before sleeping again
		for {
			if ctx.Err() != nil {
				return
			}
			err, rec := s.DB.ClaimDueDelivery(time.Now())
			if err != nil {
				log.Printf("DeliveryWorker: Failed to claim delivery: %v", err)
				break
			}
			if rec == nil {
				break
			}
			s.attempt(ctx, rec)
		}
	}
}

// attempt runs a single delivery attempt for a claimed record and
// settles its next state.
func (s *Scheduler) attempt(ctx context.Context, rec *domain.DeliveryRecord) {
	attempts := rec.Attempts + 1

	err, activity := s.DB.ReadActivityByURI(rec.ActivityURI)
	if err != nil || activity == nil {
		// Activity gone, nothing left to deliver
		if markErr := s.DB.MarkFailedPermanent(rec.Id, attempts, "activity no longer exists"); markErr != nil {
			log.Printf("DeliveryWorker: Failed to settle orphan record %s: %v", rec.Id, markErr)
		}
		return
	}

	status, err := s.deliver(ctx, rec, []byte(activity.RawJSON))
	switch {
	case err == nil && status >= 200 && status < 300:
		if err := s.DB.MarkDelivered(rec.Id, attempts); err != nil {
			log.Printf("DeliveryWorker: Failed to mark %s delivered: %v", rec.Id, err)
			return
		}
		if err := s.DB.ResetInstanceHealth(rec.InboxURI); err != nil {
			log.Printf("DeliveryWorker: Failed to reset health for %s: %v", rec.InboxURI, err)
		}
		log.Printf("DeliveryWorker: Delivered %s to %s (attempt %d)", rec.ActivityURI, rec.InboxURI, attempts)

	case err == nil && status >= 400 && status < 500:
		// The remote understood us and said no. Retrying cannot help.
		reason := fmt.Sprintf("remote returned %d", status)
		if err := s.DB.MarkFailedPermanent(rec.Id, attempts, reason); err != nil {
			log.Printf("DeliveryWorker: Failed to mark %s failed: %v", rec.Id, err)
		}
		log.Printf("DeliveryWorker: Delivery to %s failed permanently: %s", rec.InboxURI, reason)

	default:
		// A shutdown mid-attempt says nothing about the endpoint: put
		// the record back as due without burning an attempt.
		if ctx.Err() != nil {
			if err := s.DB.RescheduleDelivery(rec.Id, rec.Attempts, time.Now(), "interrupted by shutdown"); err != nil {
				log.Printf("DeliveryWorker: Failed to requeue %s on shutdown: %v", rec.Id, err)
			}
			return
		}
		reason := fmt.Sprintf("remote returned %d", status)
		if err != nil {
			reason = err.Error()
		}
		s.retryOrExhaust(rec, attempts, reason)
	}
}

func (s *Scheduler) retryOrExhaust(rec *domain.DeliveryRecord, attempts int, reason string) {
	maxAttempts := s.Conf.Conf.DeliveryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	if attempts >= maxAttempts {
		if err := s.DB.MarkExhausted(rec.Id, attempts, reason); err != nil {
			log.Printf("DeliveryWorker: Failed to mark %s exhausted: %v", rec.Id, err)
			return
		}
		if err := s.DB.BumpExhausted(rec.InboxURI, s.Conf.Conf.UnreachableThreshold); err != nil {
			log.Printf("DeliveryWorker: Failed to bump health for %s: %v", rec.InboxURI, err)
		}
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts: %s", rec.InboxURI, attempts, reason)
		return
	}

	backoff := backoffSchedule[len(backoffSchedule)-1]
	if attempts-1 < len(backoffSchedule) {
		backoff = backoffSchedule[attempts-1]
	}
	nextAttempt := time.Now().Add(backoff)
	if err := s.DB.RescheduleDelivery(rec.Id, attempts, nextAttempt, reason); err != nil {
		log.Printf("DeliveryWorker: Failed to reschedule %s: %v", rec.Id, err)
		return
	}
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %s: %s",
		rec.InboxURI, attempts, backoff, reason)
}

// deliver performs one signed POST of the activity body to the inbox.
// The request is signed fresh each attempt so the Date header stays
// within the receiver's skew window.
func (s *Scheduler) deliver(ctx context.Context, rec *domain.DeliveryRecord, body []byte) (int, error) {
	timeout := time.Duration(s.Conf.Conf.DeliveryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", rec.InboxURI, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	privateKey, keyId, err := s.Keys.Signer(ctx, rec.ActorURI)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve signer: %w", err)
	}
	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		return 0, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
