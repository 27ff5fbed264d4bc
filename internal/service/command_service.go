package service

import (
	"context"

	"github.com/anatoly-dev/fleet-hub/pkg/kafka"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"go.uber.org/zap"
)

// CommandSender routes a command to a connected device.
type CommandSender interface {
	SendCommand(cmd models.Command) bool
}

// CommandService feeds operator commands from the Kafka bus into the hub.
type CommandService struct {
	kafkaConsumer *kafka.Consumer
	sender        CommandSender
	logger        *zap.Logger
}

func NewCommandService(
	kafkaConsumer *kafka.Consumer,
	sender CommandSender,
	logger *zap.Logger,
) *CommandService {
	service := &CommandService{
		kafkaConsumer: kafkaConsumer,
		sender:        sender,
		logger:        logger,
	}

	if kafkaConsumer != nil {
		service.registerCommandHandlers()
	}

	return service
}

func (s *CommandService) registerCommandHandlers() {
	for _, msgType := range []models.MessageType{
		models.MessageTypeBeepDevice,
		models.MessageTypeRequestLocationOn,
	} {
		s.kafkaConsumer.RegisterHandler(msgType, s.handleCommand)
	}
}

func (s *CommandService) handleCommand(_ context.Context, cmd *models.Command) error {
	s.logger.Info("Handling command from bus",
		zap.String("type", string(cmd.Type)),
		zap.String("deviceID", cmd.DeviceID))

	if !s.sender.SendCommand(*cmd) {
		s.logger.Info("Command target not connected",
			zap.String("type", string(cmd.Type)),
			zap.String("deviceID", cmd.DeviceID))
	}
	return nil
}

func (s *CommandService) Start() error {
	if s.kafkaConsumer == nil {
		s.logger.Info("Command bus disabled")
		return nil
	}

	s.logger.Info("Starting command service")
	return s.kafkaConsumer.Start()
}

func (s *CommandService) Stop() {
	if s.kafkaConsumer == nil {
		return
	}

	s.logger.Info("Stopping command service")
	s.kafkaConsumer.Stop()
}
