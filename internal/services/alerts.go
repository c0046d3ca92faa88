package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const alertQueueKey = "operator_alerts"

// AlertService forwards anomalous reconciliation outcomes to the operator
// channel. Delivery is best-effort and never blocks the caller; without Redis
// alerts degrade to log lines.
type AlertService struct {
	redis *redis.Client
}

func NewAlertService(redisClient *redis.Client) *AlertService {
	return &AlertService{redis: redisClient}
}

// Notify queues an alert for the operator channel.
func (s *AlertService) Notify(kind string, details map[string]any) {
	payload := map[string]any{
		"kind":    kind,
		"time":    time.Now().Format(time.RFC3339),
		"details": details,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ALERT] Failed to marshal alert %s: %v", kind, err)
		return
	}

	if s.redis == nil {
		log.Printf("[ALERT] %s: %s", kind, data)
		return
	}

	go func() {
		if err := s.redis.RPush(context.Background(), alertQueueKey, data).Err(); err != nil {
			log.Printf("[ALERT] Failed to queue alert %s: %v", kind, err)
		}
	}()
}
