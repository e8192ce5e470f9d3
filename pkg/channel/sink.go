package channel

import (
	"errors"
	"sync/atomic"
)

var ErrSinkSealed = errors.New("the channel is sealed")

// Message is the envelope for everything that flows into a shared sink.
// The sender is stamped by the sink itself, so a producer can never
// impersonate another producer.
type Message[SenderType comparable, MessageType any] struct {
	Sender  SenderType
	Content MessageType
}

// SinkWithSender wraps a shared channel with a fixed sender identity.
// It is handed out to producers (endpoints, tees) so that the consumer
// (the engine actor) always knows who a message came from.
type SinkWithSender[SenderType comparable, MessageType any] struct {
	sender      SenderType
	messageSink chan<- Message[SenderType, MessageType]
	// Closing the shared channel is not an option since multiple producers
	// write to it, so sealing is signalled out-of-band instead.
	sealed        chan struct{}
	alreadySealed atomic.Bool
}

// NewSink creates a sink stamped with the given sender. The sink does not
// own the channel and never closes it.
func NewSink[S comparable, M any](sender S, messageSink chan<- Message[S, M]) *SinkWithSender[S, M] {
	return &SinkWithSender[S, M]{
		sender:      sender,
		messageSink: messageSink,
		sealed:      make(chan struct{}),
	}
}

// Send delivers a message to the sink. Blocks if the sink is full.
func (s *SinkWithSender[S, M]) Send(message M) error {
	if s.alreadySealed.Load() {
		return ErrSinkSealed
	}

	messageWithSender := Message[S, M]{
		Sender:  s.sender,
		Content: message,
	}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	case s.messageSink <- messageWithSender:
		return nil
	}
}

// Seal disallows any further sends through this sink. Senders already
// blocked on the underlying channel may still deliver their message if the
// consumer happens to read it before observing the seal.
func (s *SinkWithSender[S, M]) Seal() {
	if !s.alreadySealed.CompareAndSwap(false, true) {
		return
	}

	select {
	case <-s.sealed:
	default:
		close(s.sealed)
	}
}
