package handler

import (
	"relayd/internal/app/chat"
	"relayd/internal/app/presence"
	"relayd/internal/app/registry"
	"relayd/internal/configs"
)

// AppDeps holds the components the admin API reads from.
type AppDeps struct {
	Registry *registry.Registry
	Chat     *chat.Server
	Hub      *presence.Hub
	Config   *configs.AppConfig
}
