package main

import (
	"context"
	"time"

	"vision2viral/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// localConfig is the subset of settings this tool needs, so it runs without
// the full server environment.
type localConfig struct {
	ProjectID     string `envconfig:"GCP_PROJECT_ID_LOCAL" required:"true"`
	EmulatorHost  string `envconfig:"PUBSUB_EMULATOR_HOST" required:"true"`
	ActivityTopic string `envconfig:"PUBSUB_ACTIVITY_TOPIC" default:"activity-events"`
}

func main() {
	logger := logger.New()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("No .env file found, relying on system environment variables.")
	}
	logger.Info().Msg("Starting Pub/Sub setup for the local environment.")

	var cfg localConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID,
		option.WithEndpoint(cfg.EmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Msgf("Failed to close pubsub client: %v", err)
		}
	}()

	resetLocalEmulator(ctx, client, logger)
	createActivityResources(ctx, client, logger, cfg.ActivityTopic)

	logger.Info().Msg("Pub/Sub setup for local environment complete.")
}

// resetLocalEmulator deletes every topic and subscription. Emulator only.
func resetLocalEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list subscriptions: %v", err)
		}
		logger.Info().Msgf("Deleting subscription: %s", sub.ID())
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Msgf("Failed to delete subscription %s: %v", sub.ID(), err)
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list topics: %v", err)
		}
		logger.Info().Msgf("Deleting topic: %s", topic.ID())
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Msgf("Failed to delete topic %s: %v", topic.ID(), err)
		}
	}
}

// createActivityResources creates the activity topic and a pull subscription
// for inspecting published events locally.
func createActivityResources(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, topicID string) {
	topic, err := client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{
		RetentionDuration: 7 * 24 * time.Hour,
	})
	if err != nil {
		logger.Fatal().Msgf("Failed to create topic %s: %v", topicID, err)
	}
	logger.Info().Msgf("Created topic: %s", topicID)

	subID := topicID + "-sub"
	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:            topic,
		AckDeadline:      60 * time.Second,
		ExpirationPolicy: 31 * 24 * time.Hour,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 600 * time.Second,
		},
	})
	if err != nil {
		logger.Fatal().Msgf("Failed to create subscription %s: %v", subID, err)
	}
	logger.Info().Msgf("Created pull subscription: %s", subID)
}
