package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	var failed []string
	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			log.LogKafka("TOPIC_CREATED", topic, "created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.LogKafka("TOPIC_EXISTS", topic, "already exists")
		default:
			// Keep going; the other topics may still be creatable.
			log.Error("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
			failed = append(failed, topic)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to create topics %v", failed)
	}
	return nil
}
