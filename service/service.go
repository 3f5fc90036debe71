// Package service orchestrates the SAR ATR processing loop: it maintains
// the broker session, turns inbound file notifications into inference runs,
// and publishes the resulting UCI documents.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarlink/atruci/atr"
	"github.com/sarlink/atruci/config"
	"github.com/sarlink/atruci/stomp"
	"github.com/sarlink/atruci/uci"
	"github.com/sarlink/atruci/wsock"
)

// Broker is the session surface the orchestrator needs. *stomp.Client
// satisfies it.
type Broker interface {
	Subscribe(topic string, fn func(body []byte)) error
	Send(topic string, body []byte) error
	Close() error
}

// Service wires the broker session, the inference engine and the UCI codec
// together. Notifications are processed one at a time on the session's
// receiver goroutine, so cycles never overlap.
type Service struct {
	cfg    *config.Config
	engine atr.Engine
	info   uci.SystemInfo
	stats  *Stats

	// Startup connection policy: MaxAttempts tries with a fixed RetryDelay
	// between them, fatal after exhaustion.
	MaxAttempts int
	RetryDelay  time.Duration

	dial func() (Broker, error)

	mu     sync.Mutex
	broker Broker
}

// New builds a Service from validated configuration and an engine.
func New(cfg *config.Config, engine atr.Engine) *Service {
	s := &Service{
		cfg:    cfg,
		engine: engine,
		info: uci.SystemInfo{
			SystemUUID:     cfg.SystemUUID,
			Description:    cfg.SystemDescription,
			ServiceVersion: cfg.ServiceVersion,
		},
		stats:       &Stats{},
		MaxAttempts: 5,
		RetryDelay:  2 * time.Second,
	}
	s.dial = s.dialBroker
	return s
}

// Stats exposes the processing counters for the status endpoint.
func (s *Service) Stats() *Stats {
	return s.stats
}

func (s *Service) dialBroker() (Broker, error) {
	conn, err := wsock.Dial(s.cfg.BrokerAddress)
	if err != nil {
		return nil, err
	}
	client := stomp.NewClient(conn)
	if err := client.Connect(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// connect dials the broker and establishes the single subscription.
func (s *Service) connect() error {
	broker, err := s.dial()
	if err != nil {
		return err
	}
	if err := broker.Subscribe(s.cfg.Topics.FileLocation, s.handleNotification); err != nil {
		broker.Close()
		return err
	}

	s.mu.Lock()
	s.broker = broker
	s.mu.Unlock()
	s.stats.setConnected(true)
	return nil
}

// Run connects to the broker with bounded retries, then blocks until ctx is
// canceled. Shutdown closes the session and joins its receiver loop before
// returning, so no in-flight cycle is abandoned mid-publish.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("Starting SAR ATR UCI service",
		"broker", s.cfg.BrokerAddress,
		"confidence_threshold", s.cfg.ConfidenceThreshold,
		"system_uuid", s.cfg.SystemUUID,
		"service_version", s.cfg.ServiceVersion)

	var err error
	for attempt := 1; ; attempt++ {
		err = s.connect()
		if err == nil {
			break
		}
		slog.Warn("Broker connection attempt failed",
			"attempt", attempt, "max_attempts", s.MaxAttempts, "error", err)
		if attempt >= s.MaxAttempts {
			return fmt.Errorf("service: broker unreachable after %d attempts: %w",
				s.MaxAttempts, err)
		}
		select {
		case <-time.After(s.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	slog.Info("Service initialized and ready",
		"subscribed_topic", s.cfg.Topics.FileLocation)

	<-ctx.Done()

	slog.Info("Shutting down service")
	s.stats.setConnected(false)

	s.mu.Lock()
	broker := s.broker
	s.broker = nil
	s.mu.Unlock()
	if broker != nil {
		return broker.Close()
	}
	return nil
}

func (s *Service) currentBroker() Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker
}

// handleNotification is the per-notification cycle. It runs synchronously
// on the receiver goroutine: decode the file path, run inference, filter by
// confidence, publish one Entity document per accepted detection, then one
// processing result listing exactly the ids published in this cycle.
func (s *Service) handleNotification(body []byte) {
	s.stats.cycleStarted()

	path, err := uci.ParseFileLocation(body)
	if err != nil {
		slog.Error("Dropping undecodable notification", "error", err)
		s.stats.decodeFailure()
		return
	}
	slog.Info("Received file location notification", "path", path)

	start := time.Now()
	detections, err := s.engine.Process(path)
	if err != nil {
		slog.Error("Inference failed, abandoning cycle", "path", path, "error", err)
		s.stats.engineFailure()
		return
	}
	slog.Info("Inference completed",
		"path", path,
		"detections", len(detections),
		"duration", time.Since(start))

	s.publishResults(detections)
}

func (s *Service) publishResults(detections []atr.Detection) {
	broker := s.currentBroker()
	if broker == nil {
		slog.Error("No broker session, dropping cycle results")
		return
	}

	var entityIDs []string
	filtered := 0
	for _, det := range detections {
		if det.Confidence < s.cfg.ConfidenceThreshold {
			slog.Info("Detection below confidence threshold, not publishing",
				"classification", det.Classification,
				"confidence", det.Confidence)
			filtered++
			continue
		}

		entityID, err := s.publishEntity(broker, det)
		if err != nil {
			// One bad publish must not abort the cycle.
			slog.Error("Failed to publish Entity document",
				"classification", det.Classification, "error", err)
			s.stats.publishError()
			continue
		}
		entityIDs = append(entityIDs, entityID)

		if det.ChipPath != "" {
			s.publishProduct(broker, entityID, det.ChipPath)
		}
	}

	if len(entityIDs) > 0 {
		doc, err := uci.NewProcessingResult(entityIDs)
		if err != nil {
			slog.Error("Failed to build processing result", "error", err)
		} else if err := broker.Send(s.cfg.Topics.ProcessingResult, doc); err != nil {
			slog.Error("Failed to publish processing result", "error", err)
			s.stats.publishError()
		} else {
			slog.Info("Published processing result", "entities", len(entityIDs))
		}
	}

	ratio := CompressionRatio(detections, len(entityIDs))
	if ratio > 0 {
		slog.Info("Estimated chip transmission savings", "compression_ratio", ratio)
	}

	slog.Info("Cycle summary",
		"detections", len(detections),
		"published", len(entityIDs),
		"filtered", filtered)
	s.stats.cycleFinished(len(detections), len(entityIDs), filtered, ratio)
}

func (s *Service) publishEntity(broker Broker, det atr.Detection) (string, error) {
	doc, entityID, err := uci.NewEntity(det, s.info)
	if err != nil {
		return "", err
	}
	if err := broker.Send(s.cfg.Topics.Entity, doc); err != nil {
		return "", err
	}
	slog.Info("Published Entity document",
		"entity_id", entityID,
		"classification", det.Classification,
		"confidence", det.Confidence)
	return entityID, nil
}

// publishProduct announces the chip file produced for a published entity.
// Failures are logged and isolated like any other mid-cycle publish error.
func (s *Service) publishProduct(broker Broker, entityID, chipPath string) {
	meta, productID, err := uci.NewProductMetadata(entityID, s.info)
	if err != nil {
		slog.Error("Failed to build ProductMetadata document", "error", err)
		return
	}
	if err := broker.Send(s.cfg.Topics.ProductMetadata, meta); err != nil {
		slog.Error("Failed to publish ProductMetadata document", "error", err)
		s.stats.publishError()
		return
	}

	loc, err := uci.NewProductLocation(productID, chipPath, s.info)
	if err != nil {
		slog.Error("Failed to build ProductLocation document", "error", err)
		return
	}
	if err := broker.Send(s.cfg.Topics.ProductLocation, loc); err != nil {
		slog.Error("Failed to publish ProductLocation document", "error", err)
		s.stats.publishError()
		return
	}

	slog.Info("Published product documents",
		"product_id", productID, "chip_path", chipPath)
}
