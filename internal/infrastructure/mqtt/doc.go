// Package mqtt provides MQTT client connectivity for the PV bridge.
//
// This package manages:
//   - Connections to the meter broker and the Venus broker
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge sits between two buses:
//
//	ehzmeter logger → meter broker → PV bridge → Venus broker → consumers
//
// The meter client runs without library auto-reconnect; the meter ingestor
// owns the retry loop so backoff policy stays in one place. The Venus
// client uses paho's built-in reconnect with retained value topics, so a
// reconnect is transparent to consumers.
//
// # Usage
//
//	client, err := mqtt.Connect(mqtt.Options{
//	    Broker:        cfg.Meter.Broker,
//	    Auth:          cfg.Meter.Auth,
//	    QoS:           cfg.Meter.QoS,
//	    AutoReconnect: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.MeterTopics{Prefix: cfg.Meter.TopicPrefix}
//	err = client.Subscribe(topics.Wildcard(), 0,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
