package kafka

import "errors"

var (
	ErrNoBrokers       = errors.New("kafka: no brokers configured")
	ErrEmptyTopic      = errors.New("kafka: empty topic")
	ErrProducerClosed  = errors.New("kafka: producer closed")
	ErrUnsupportedSASL = errors.New("kafka: unsupported sasl mechanism")
)
