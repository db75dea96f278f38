package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
	"audiorelay/pkg/sdpinfo"
	"audiorelay/pkg/tracing"
	"audiorelay/pkg/utils"

	"go.uber.org/zap"
)

const (
	pathProducer = "producer"
	pathConsumer = "consumer"

	eventPublishTimeout = 2 * time.Second
)

// RelayCapabilities is what the relay accepts from producers: opus audio with
// the audio-level and transport-wide congestion control header extensions.
var RelayCapabilities = sdpinfo.Capabilities{
	sdpinfo.KindAudio: {
		Codecs: []string{"opus"},
		Extensions: []string{
			"urn:ietf:params:rtp-hdrext:ssrc-audio-level",
			"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
		},
	},
}

// NegotiationService runs the producer and consumer offer/answer paths and
// keeps the registry consistent with transport lifecycles.
type NegotiationService struct {
	registry  ports.SessionRegistry
	endpoints ports.EndpointFactory
	metrics   ports.MetricsRecorder
	events    ports.EventPublisher
	logger    *zap.SugaredLogger

	capabilities sdpinfo.Capabilities
	newID        func() string
}

func NewNegotiationService(
	registry ports.SessionRegistry,
	endpoints ports.EndpointFactory,
	metrics ports.MetricsRecorder,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) *NegotiationService {
	return &NegotiationService{
		registry:     registry,
		endpoints:    endpoints,
		metrics:      metrics,
		events:       events,
		logger:       logger,
		capabilities: RelayCapabilities,
		newID:        utils.GenerateSessionID,
	}
}

func (s *NegotiationService) CreateProducer(ctx context.Context, offer string) (*domain.SessionAnswer, error) {
	start := time.Now()
	producerID := domain.ProducerID(s.newID())

	ctx, span := tracing.TraceNegotiation(ctx, pathProducer, string(producerID))
	defer span.End()

	endpoint, err := s.endpoints.CreateEndpoint()
	if err != nil {
		err = fmt.Errorf("create endpoint: %w", err)
		s.failNegotiation(ctx, pathProducer, err)
		return nil, err
	}

	producer, answer, err := s.negotiateProducer(producerID, endpoint, offer)
	if err != nil {
		if closeErr := endpoint.Close(); closeErr != nil {
			s.logger.Warnw("Failed to close endpoint", "producer_id", producerID, "error", closeErr)
		}
		s.failNegotiation(ctx, pathProducer, err)
		return nil, err
	}

	// Registration is the last step: a producer is never visible half-built.
	if err := s.registerProducer(producer); err != nil {
		s.releaseProducer(producer)
		s.failNegotiation(ctx, pathProducer, err)
		return nil, err
	}

	producer.Transport.OnStateChange(func(state domain.ConnectivityState) {
		s.logger.Infow("Producer transport state changed",
			"producer_id", producer.ID,
			"state", state,
		)
	})

	s.metrics.ProducerCreated()
	s.metrics.ObserveNegotiation(pathProducer, time.Since(start))
	tracing.MeasureDuration(ctx, start, "negotiation.producer")
	s.publish(domain.EventProducerCreated, producer.ID, "", "")

	s.logger.Infow("Producer created",
		"producer_id", producer.ID,
		"transport_id", producer.Transport.ID(),
		"stream_id", producer.IncomingStream.ID(),
	)

	return &domain.SessionAnswer{ID: string(producer.ID), SDP: answer}, nil
}

func (s *NegotiationService) negotiateProducer(id domain.ProducerID, endpoint domain.Endpoint, offer string) (*domain.Producer, string, error) {
	desc, err := sdpinfo.Parse(offer)
	if err != nil {
		return nil, "", domain.NewNegotiationError("sdp", fmt.Errorf("%w: %v", domain.ErrNegotiationCodec, err))
	}

	offered := desc.Media(sdpinfo.KindAudio)
	if offered == nil {
		return nil, "", domain.NewNegotiationError("audio", domain.ErrMissingAudioOffer)
	}
	if _, ok := offered.Codec("opus"); !ok {
		return nil, "", domain.NewNegotiationError("opus", domain.ErrMissingAudioOffer)
	}
	stream := desc.FirstStream()
	if stream == nil || stream.Track(sdpinfo.KindAudio) == nil {
		return nil, "", domain.NewNegotiationError("stream", domain.ErrMissingAudioOffer)
	}

	transport, err := endpoint.CreateTransport(desc)
	if err != nil {
		return nil, "", fmt.Errorf("create transport: %w", err)
	}

	fail := func(err error) (*domain.Producer, string, error) {
		if closeErr := transport.Close(); closeErr != nil {
			s.logger.Warnw("Failed to close transport", "producer_id", id, "error", closeErr)
		}
		return nil, "", err
	}

	if err := transport.SetRemoteProperties(offered); err != nil {
		return fail(fmt.Errorf("set remote properties: %w", err))
	}

	answer := desc.Answer(sdpinfo.AnswerOptions{
		ICE:          transport.LocalICE(),
		DTLS:         transport.LocalDTLS(),
		Candidates:   endpoint.LocalCandidates(),
		Capabilities: s.capabilities,
	})
	answered := answer.Media(sdpinfo.KindAudio)
	if answered == nil {
		return fail(domain.NewNegotiationError("opus", domain.ErrMissingAudioOffer))
	}

	if err := transport.SetLocalProperties(answered); err != nil {
		return fail(fmt.Errorf("set local properties: %w", err))
	}

	incoming, err := transport.CreateIncomingStream(stream)
	if err != nil {
		return fail(fmt.Errorf("create incoming stream: %w", err))
	}

	text, err := answer.Marshal()
	if err != nil {
		incoming.Stop()
		return fail(fmt.Errorf("marshal answer: %w", err))
	}

	producer := &domain.Producer{
		ID:             id,
		Endpoint:       endpoint,
		Transport:      transport,
		IncomingStream: incoming,
		Media:          answered,
		CreatedAt:      time.Now(),
	}
	return producer, text, nil
}

// registerProducer retries once with a fresh id on collision.
func (s *NegotiationService) registerProducer(producer *domain.Producer) error {
	_, err := s.registry.RegisterProducer(producer)
	if errors.Is(err, domain.ErrIDCollision) {
		s.logger.Warnw("Producer id collision, regenerating", "producer_id", producer.ID)
		producer.ID = domain.ProducerID(s.newID())
		_, err = s.registry.RegisterProducer(producer)
	}
	if err != nil {
		return fmt.Errorf("register producer: %w", err)
	}
	return nil
}

func (s *NegotiationService) CreateConsumer(ctx context.Context, producerID domain.ProducerID, offer string) (*domain.SessionAnswer, error) {
	start := time.Now()

	ctx, span := tracing.TraceNegotiation(ctx, pathConsumer, string(producerID))
	defer span.End()

	// Lookup first: nothing is allocated for an unknown producer.
	producer, err := s.registry.LookupProducer(producerID)
	if err != nil {
		s.failNegotiation(ctx, pathConsumer, err)
		return nil, err
	}

	consumerID := domain.ConsumerID(s.newID())
	tracing.AddSpanAttributes(ctx, tracing.ConsumerIDKey.String(string(consumerID)))

	desc, err := sdpinfo.Parse(offer)
	if err != nil {
		err = domain.NewNegotiationError("sdp", fmt.Errorf("%w: %v", domain.ErrNegotiationCodec, err))
		s.failNegotiation(ctx, pathConsumer, err)
		return nil, err
	}

	transport, err := producer.Endpoint.CreateTransport(desc)
	if err != nil {
		// The producer was destroyed after the lookup.
		if errors.Is(err, domain.ErrEndpointClosed) {
			err = domain.ErrProducerNotFound
		} else {
			err = fmt.Errorf("create transport: %w", err)
		}
		s.failNegotiation(ctx, pathConsumer, err)
		return nil, err
	}

	consumer, answer, err := s.negotiateConsumer(producer, consumerID, transport, desc)
	if err != nil {
		if closeErr := transport.Close(); closeErr != nil {
			s.logger.Warnw("Failed to close transport", "consumer_id", consumerID, "error", closeErr)
		}
		s.failNegotiation(ctx, pathConsumer, err)
		return nil, err
	}

	if err := s.registerConsumer(producer.ID, consumer); err != nil {
		s.releaseConsumer(consumer)
		s.failNegotiation(ctx, pathConsumer, err)
		return nil, err
	}

	// The transport may have closed between creation and registration; the
	// state check after subscribing covers that window.
	transport.OnStateChange(func(state domain.ConnectivityState) {
		s.logger.Debugw("Consumer transport state changed",
			"producer_id", consumer.ProducerID,
			"consumer_id", consumer.ID,
			"state", state,
		)
		if state == domain.StateClosed {
			s.handleConsumerClosed(consumer.ProducerID, consumer.ID)
		}
	})
	if transport.State() == domain.StateClosed {
		s.handleConsumerClosed(consumer.ProducerID, consumer.ID)
	}

	s.metrics.ConsumerCreated()
	s.metrics.ObserveNegotiation(pathConsumer, time.Since(start))
	tracing.MeasureDuration(ctx, start, "negotiation.consumer")
	s.publish(domain.EventConsumerCreated, consumer.ProducerID, consumer.ID, "")

	s.logger.Infow("Consumer created",
		"producer_id", consumer.ProducerID,
		"consumer_id", consumer.ID,
		"transport_id", transport.ID(),
	)

	return &domain.SessionAnswer{ID: string(consumer.ID), SDP: answer}, nil
}

func (s *NegotiationService) negotiateConsumer(
	producer *domain.Producer,
	consumerID domain.ConsumerID,
	transport domain.Transport,
	desc *sdpinfo.Description,
) (*domain.Consumer, string, error) {
	offered := desc.Media(sdpinfo.KindAudio)
	if offered == nil {
		return nil, "", domain.NewNegotiationError("audio", domain.ErrMissingAudioOffer)
	}
	opus, ok := offered.Codec("opus")
	if !ok {
		return nil, "", domain.NewNegotiationError("opus", domain.ErrMissingAudioOffer)
	}

	answer := sdpinfo.NewDescription()
	answer.SetICE(transport.LocalICE())
	answer.SetDTLS(transport.LocalDTLS())
	for _, candidate := range producer.Endpoint.LocalCandidates() {
		answer.AddCandidate(candidate)
	}

	audio := sdpinfo.NewMedia(offered.ID, sdpinfo.KindAudio)
	audio.AddCodec(opus)
	audio.SetDirection(sdpinfo.DirectionSendOnly)
	answer.AddMedia(audio)

	if err := transport.SetLocalProperties(audio); err != nil {
		return nil, "", fmt.Errorf("set local properties: %w", err)
	}

	outgoing, err := transport.CreateOutgoingStream(sdpinfo.KindAudio)
	if err != nil {
		return nil, "", fmt.Errorf("create outgoing stream: %w", err)
	}

	if producer.IncomingStream == nil {
		s.logger.Errorw("Producer has no incoming stream",
			"producer_id", producer.ID,
			"consumer_id", consumerID,
		)
		outgoing.Stop()
		return nil, "", domain.ErrProducerStreamMissing
	}

	if err := outgoing.AttachTo(producer.IncomingStream); err != nil {
		outgoing.Stop()
		return nil, "", fmt.Errorf("attach outgoing stream: %w", err)
	}
	answer.AddStream(outgoing.Info())

	text, err := answer.Marshal()
	if err != nil {
		outgoing.Stop()
		return nil, "", fmt.Errorf("marshal answer: %w", err)
	}

	consumer := &domain.Consumer{
		ID:             consumerID,
		ProducerID:     producer.ID,
		Transport:      transport,
		OutgoingStream: outgoing,
		CreatedAt:      time.Now(),
	}
	return consumer, text, nil
}

func (s *NegotiationService) registerConsumer(producerID domain.ProducerID, consumer *domain.Consumer) error {
	_, err := s.registry.RegisterConsumer(producerID, consumer)
	if errors.Is(err, domain.ErrIDCollision) {
		s.logger.Warnw("Consumer id collision, regenerating", "consumer_id", consumer.ID)
		consumer.ID = domain.ConsumerID(s.newID())
		_, err = s.registry.RegisterConsumer(producerID, consumer)
	}
	if errors.Is(err, domain.ErrProducerNotFound) {
		// producer destroyed while this consumer negotiated
		return err
	}
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	return nil
}

// handleConsumerClosed runs when a consumer transport reaches closed. Removal
// is idempotent, so it races safely with explicit leave and producer teardown.
func (s *NegotiationService) handleConsumerClosed(producerID domain.ProducerID, consumerID domain.ConsumerID) {
	consumer, removed := s.registry.RemoveConsumer(producerID, consumerID)
	if !removed {
		return
	}

	consumer.OutgoingStream.Stop()

	s.metrics.ConsumerRemoved()
	s.publish(domain.EventConsumerRemoved, producerID, consumerID, "transport closed")
	s.logger.Infow("Consumer removed after transport close",
		"producer_id", producerID,
		"consumer_id", consumerID,
	)
}

func (s *NegotiationService) RemoveConsumer(ctx context.Context, producerID domain.ProducerID, consumerID domain.ConsumerID) error {
	ctx, span := tracing.TraceSession(ctx, "leave", string(producerID), string(consumerID))
	defer span.End()

	consumer, removed := s.registry.RemoveConsumer(producerID, consumerID)
	if !removed {
		return nil
	}

	s.releaseConsumer(consumer)

	s.metrics.ConsumerRemoved()
	s.publish(domain.EventConsumerRemoved, producerID, consumerID, "leave")
	s.logger.Infow("Consumer left",
		"producer_id", producerID,
		"consumer_id", consumerID,
	)
	return nil
}

func (s *NegotiationService) DestroyProducer(ctx context.Context, producerID domain.ProducerID) error {
	ctx, span := tracing.TraceSession(ctx, "destroy", string(producerID), "")
	defer span.End()

	producer, consumers, removed := s.registry.RemoveProducer(producerID)
	if !removed {
		tracing.RecordError(ctx, domain.ErrProducerNotFound)
		return domain.ErrProducerNotFound
	}

	for _, consumer := range consumers {
		s.releaseConsumer(consumer)
		s.metrics.ConsumerRemoved()
		s.publish(domain.EventConsumerRemoved, producerID, consumer.ID, "producer destroyed")
	}

	s.releaseProducer(producer)

	s.metrics.ProducerDestroyed()
	s.publish(domain.EventProducerDestroyed, producerID, "", "")
	s.logger.Infow("Producer destroyed",
		"producer_id", producerID,
		"consumers", len(consumers),
	)
	return nil
}

func (s *NegotiationService) GetProducer(ctx context.Context, producerID domain.ProducerID) (*domain.ProducerInfo, error) {
	producer, err := s.registry.LookupProducer(producerID)
	if err != nil {
		return nil, err
	}
	consumers, err := s.registry.Consumers(producerID)
	if err != nil {
		return nil, err
	}

	info := &domain.ProducerInfo{
		ID:        producer.ID,
		Consumers: make([]domain.ConsumerID, 0, len(consumers)),
		CreatedAt: producer.CreatedAt,
	}
	if producer.Media != nil && len(producer.Media.Codecs) > 0 {
		info.Codec = producer.Media.Codecs[0].Name
	}
	for _, consumer := range consumers {
		info.Consumers = append(info.Consumers, consumer.ID)
	}
	return info, nil
}

// Shutdown destroys every producer, stopping early if ctx expires.
func (s *NegotiationService) Shutdown(ctx context.Context) error {
	for _, id := range s.registry.ProducerIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.DestroyProducer(ctx, id); err != nil && !errors.Is(err, domain.ErrProducerNotFound) {
			s.logger.Warnw("Failed to destroy producer on shutdown", "producer_id", id, "error", err)
		}
	}
	return nil
}

// releaseConsumer stops forwarding before closing the transport. It never
// touches the producer's endpoint.
func (s *NegotiationService) releaseConsumer(consumer *domain.Consumer) {
	consumer.OutgoingStream.Detach()
	consumer.OutgoingStream.Stop()
	if err := consumer.Transport.Close(); err != nil {
		s.logger.Warnw("Failed to close consumer transport",
			"producer_id", consumer.ProducerID,
			"consumer_id", consumer.ID,
			"error", err,
		)
	}
}

// releaseProducer closes the endpoint last; it outlives every transport on it.
func (s *NegotiationService) releaseProducer(producer *domain.Producer) {
	if producer.IncomingStream != nil {
		producer.IncomingStream.Stop()
	}
	if err := producer.Transport.Close(); err != nil {
		s.logger.Warnw("Failed to close producer transport", "producer_id", producer.ID, "error", err)
	}
	if err := producer.Endpoint.Close(); err != nil {
		s.logger.Warnw("Failed to close endpoint", "producer_id", producer.ID, "error", err)
	}
}

func (s *NegotiationService) failNegotiation(ctx context.Context, path string, err error) {
	reason := "internal"
	var negErr *domain.NegotiationError
	switch {
	case errors.As(err, &negErr):
		reason = negErr.Element
	case errors.Is(err, domain.ErrProducerNotFound):
		reason = "not_found"
	case errors.Is(err, domain.ErrProducerStreamMissing):
		reason = "stream_missing"
	}

	tracing.RecordError(ctx, err)
	s.metrics.NegotiationFailed(path, reason)
	s.logger.Warnw("Negotiation failed",
		"path", path,
		"reason", reason,
		"error", err,
	)
}

// publish is fire-and-forget; event delivery never affects the registry.
func (s *NegotiationService) publish(eventType domain.EventType, producerID domain.ProducerID, consumerID domain.ConsumerID, reason string) {
	if s.events == nil {
		return
	}
	event := &domain.SessionEvent{
		Type:       eventType,
		ProducerID: producerID,
		ConsumerID: consumerID,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warnw("Failed to publish session event",
				"type", event.Type,
				"producer_id", event.ProducerID,
				"error", err,
			)
		}
	}()
}
