package main

import (
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/config"
	"github.com/9a4gl/centrometal-web-boiler/internal/session"
)

// routingFromConfig builds the live feed routing from the stomp section.
func routingFromConfig(cfg config.StompConfig) device.Routing {
	return device.Routing{
		DeviceTopic:                cfg.DeviceTopic,
		PerTypeTopics:              cfg.PerTypeTopics,
		NotificationDestination:    cfg.NotificationDestination,
		DeviceSubscriptionID:       cfg.DeviceSubscriptionID,
		NotificationSubscriptionID: cfg.NotificationSubscriptionID,
	}
}

// sessionOptionsFromConfig builds controller options from the session section.
func sessionOptionsFromConfig(cfg config.SessionConfig) session.Options {
	return session.Options{
		Reconnect:        reconnectPolicyFromConfig(cfg.Reconnect),
		RefreshOnConnect: cfg.RefreshOnConnect,
		RefreshDelay:     time.Duration(cfg.RefreshDelay) * time.Second,
	}
}

func reconnectPolicyFromConfig(cfg config.ReconnectConfig) session.ReconnectPolicy {
	return session.ReconnectPolicy{
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
		MaxAttempts:  cfg.MaxAttempts,
	}
}
